package main

import (
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"

	sciclops "github.com/AD-SDL/sciclops-module"
)

func main() {
	// ModularMain can take multiple APIModel arguments, if your module implements multiple models.
	module.ModularMain(
		resource.APIModel{API: gripper.API, Model: sciclops.GripperModel},
		resource.APIModel{API: sensor.API, Model: sciclops.StatusSensorModel},
	)
}
