package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/angelstreet/virtualpytest-sub004/controller"
	"github.com/angelstreet/virtualpytest-sub004/models"
	"github.com/angelstreet/virtualpytest-sub004/service"
	"github.com/angelstreet/virtualpytest-sub004/store"
)

// DefaultExecutionsLimit caps GET /api/executions when no limit is given.
const DefaultExecutionsLimit = 50

type screenshotRequest struct {
	Name string `json:"name"`
}

type videoRequest struct {
	Duration float64 `json:"duration"` // seconds
	Filename string  `json:"filename"`
}

type verificationRequest struct {
	Verifications []models.VerificationConfig `json:"verifications"`
}

type searchRequest struct {
	SearchTerm string `json:"search_term"`
}

// lookupDevice writes a 404 when the :id device does not exist.
func lookupDevice(c *gin.Context, host *service.Host) (*service.Device, bool) {
	id := c.Param("id")
	d, ok := host.Device(id)
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse("device not found: "+id))
		return nil, false
	}
	return d, true
}

// bindJSON decodes the body into req. An empty body leaves req untouched.
func bindJSON(c *gin.Context, req interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("invalid request: "+err.Error()))
		return false
	}
	return true
}

func commandResponse(c *gin.Context, res models.CommandResult) {
	status := http.StatusOK
	if res.Unknown {
		status = http.StatusBadRequest
	}
	c.JSON(status, models.ResultResponse(res.Success, res, res.Error))
}

// Health reports the host and how many devices it carries.
func Health(c *gin.Context, host *service.Host) {
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"status":  "ok",
		"host":    host.Name,
		"devices": len(host.Devices()),
	}))
}

// GetHost returns the host with every device.
func GetHost(c *gin.Context, host *service.Host) {
	c.JSON(http.StatusOK, models.SuccessResponse(host.Info()))
}

// GetDevices returns all devices
func GetDevices(c *gin.Context, host *service.Host) {
	c.JSON(http.StatusOK, models.SuccessResponse(host.Info().Devices))
}

// GetDevice returns one device with its controller status and navigation
// context.
func GetDevice(c *gin.Context, host *service.Host) {
	d, ok := lookupDevice(c, host)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"device":     d.Info(),
		"status":     d.Status(),
		"navigation": d.NavigationContext(),
	}))
}

// RemoteCommand runs a command on the device's first remote controller.
func RemoteCommand(c *gin.Context, host *service.Host) {
	d, ok := lookupDevice(c, host)
	if !ok {
		return
	}
	var req models.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Command == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("command is required"))
		return
	}
	r, ok := d.Remote()
	if !ok {
		c.JSON(http.StatusConflict, models.ErrorResponse(service.ErrNoRemote.Error()))
		return
	}
	commandResponse(c, r.ExecuteCommand(c.Request.Context(), req.Command, req.Params))
}

// ControllerCommand runs a command on the controller registered under :key.
func ControllerCommand(c *gin.Context, host *service.Host) {
	d, ok := lookupDevice(c, host)
	if !ok {
		return
	}
	key := c.Param("key")
	ctrl, ok := d.Controller(key)
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse("controller not found: "+key))
		return
	}
	cmd, ok := ctrl.(controller.Commander)
	if !ok {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("controller "+key+" takes no commands"))
		return
	}
	var req models.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Command == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("command is required"))
		return
	}
	commandResponse(c, cmd.ExecuteCommand(c.Request.Context(), req.Command, req.Params))
}

// RemoteSequence runs actions with their retry and failure batches.
func RemoteSequence(c *gin.Context, host *service.Host) {
	d, ok := lookupDevice(c, host)
	if !ok {
		return
	}
	var req models.SequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Actions) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("actions are required"))
		return
	}
	if d.Actions == nil {
		c.JSON(http.StatusConflict, models.ErrorResponse(service.ErrNoRemote.Error()))
		return
	}
	res := d.Actions.Execute(c.Request.Context(), req.Actions, req.RetryActions, req.FailureActions)
	c.JSON(http.StatusOK, models.ResultResponse(res.Success, res, ""))
}

// BatchSequence runs one sequence on several devices.
func BatchSequence(c *gin.Context, dispatcher *service.ActionDispatcher) {
	var req models.BatchSequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.DeviceIDs) == 0 || len(req.Actions) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("device_ids and actions are required"))
		return
	}
	results := dispatcher.DispatchBatch(c.Request.Context(), req.DeviceIDs, req.SequenceRequest)
	success := true
	for _, r := range results {
		if r.Execution == nil || !r.Execution.Success {
			success = false
		}
	}
	c.JSON(http.StatusOK, models.ResultResponse(success, results, ""))
}

func deviceAV(c *gin.Context, host *service.Host) (controller.AVController, bool) {
	d, ok := lookupDevice(c, host)
	if !ok {
		return nil, false
	}
	av, ok := d.AV()
	if !ok {
		c.JSON(http.StatusConflict, models.ErrorResponse("device has no AV controller"))
		return nil, false
	}
	return av, true
}

// TakeScreenshot returns the current capture, or saves it under a name.
func TakeScreenshot(c *gin.Context, host *service.Host) {
	av, ok := deviceAV(c, host)
	if !ok {
		return
	}
	var req screenshotRequest
	if !bindJSON(c, &req) {
		return
	}

	var (
		path string
		err  error
	)
	if req.Name != "" {
		path, err = av.SaveScreenshot(c.Request.Context(), req.Name)
	} else {
		path, err = av.TakeScreenshot(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"path": path}))
}

// StartVideo opens a capture session.
func StartVideo(c *gin.Context, host *service.Host) {
	av, ok := deviceAV(c, host)
	if !ok {
		return
	}
	var req videoRequest
	if !bindJSON(c, &req) {
		return
	}
	duration := time.Duration(req.Duration * float64(time.Second))
	session, err := av.StartVideoCapture(c.Request.Context(), duration, req.Filename)
	if err != nil {
		c.JSON(http.StatusConflict, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(session))
}

// StopVideo closes the active capture session.
func StopVideo(c *gin.Context, host *service.Host) {
	av, ok := deviceAV(c, host)
	if !ok {
		return
	}
	session, ok := av.StopVideoCapture(c.Request.Context())
	if !ok {
		c.JSON(http.StatusConflict, models.ErrorResponse("no active capture session"))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(session))
}

// RunVerifications routes each verification to its controller.
func RunVerifications(c *gin.Context, host *service.Host) {
	d, ok := lookupDevice(c, host)
	if !ok {
		return
	}
	var req verificationRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Verifications) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("verifications are required"))
		return
	}
	if d.Verifications == nil {
		c.JSON(http.StatusConflict, models.ErrorResponse(service.ErrNoVerification.Error()))
		return
	}
	res := d.Verifications.Execute(c.Request.Context(), req.Verifications)
	c.JSON(http.StatusOK, models.ResultResponse(res.Success, res, ""))
}

// SearchElements looks for a UI element through the device's remote.
func SearchElements(c *gin.Context, host *service.Host) {
	d, ok := lookupDevice(c, host)
	if !ok {
		return
	}
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SearchTerm == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("search_term is required"))
		return
	}
	r, ok := d.Remote()
	if !ok {
		c.JSON(http.StatusConflict, models.ErrorResponse(service.ErrNoRemote.Error()))
		return
	}
	res := r.ExecuteCommand(c.Request.Context(), "check_element_exists", map[string]interface{}{"search_term": req.SearchTerm})
	commandResponse(c, res)
}

// Navigate runs a transition and moves the device to its target node.
func Navigate(c *gin.Context, host *service.Host) {
	d, ok := lookupDevice(c, host)
	if !ok {
		return
	}
	var t models.Transition
	if err := c.ShouldBindJSON(&t); err != nil || t.ToNodeID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("to_node_id is required"))
		return
	}
	if d.Navigation == nil {
		c.JSON(http.StatusConflict, models.ErrorResponse("device cannot navigate"))
		return
	}
	res := d.Navigation.Navigate(c.Request.Context(), t)
	c.JSON(http.StatusOK, models.ResultResponse(res.Success, res, ""))
}

// ListExecutions returns recorded executions, newest first, filtered by the
// device_id and execution_type query parameters.
func ListExecutions(c *gin.Context, records store.RecordStore) {
	if records == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse("no record store configured"))
		return
	}
	filters := map[string]string{}
	for _, key := range []string{"device_id", "execution_type"} {
		if v := c.Query(key); v != "" {
			filters[key] = v
		}
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultExecutionsLimit)))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("invalid limit"))
		return
	}
	recs, err := records.Select(c.Request.Context(), service.ExecutionsTable, filters, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	c.JSON(http.StatusOK, models.SuccessResponse(recs))
}

// FeedStatus reports the capture feeds.
func FeedStatus(c *gin.Context, feed *service.CaptureFeed) {
	c.JSON(http.StatusOK, models.SuccessResponse(feed.Status()))
}
