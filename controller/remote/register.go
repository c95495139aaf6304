package remote

import "github.com/angelstreet/virtualpytest-sub004/controller"

// Register adds the remote implementations to r.
func Register(r *controller.Registry) {
	r.Register(controller.TypeRemote, controller.AndroidMobile, controller.Adapt(NewAndroid))
	r.Register(controller.TypeRemote, controller.AndroidTV, controller.Adapt(NewAndroid))
	r.Register(controller.TypeRemote, controller.IRRemote, controller.Adapt(NewInfrared))
	r.Register(controller.TypeRemote, controller.AppiumRemote, controller.Adapt(NewAppium))
}
