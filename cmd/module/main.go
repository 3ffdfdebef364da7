package main

import (
	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"

	"autostep"
)

func main() {
	module.ModularMain(
		resource.APIModel{API: motor.API, Model: autostep.Model},
		resource.APIModel{API: sensor.API, Model: autostep.TelemetrySensorModel},
		resource.APIModel{API: discovery.API, Model: autostep.DiscoveryModel},
	)
}
