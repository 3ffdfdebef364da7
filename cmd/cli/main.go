// Interactive console for an Autostep controller. Reads one JSON command
// object per line from stdin, prints the response, and streams telemetry
// samples while a motion profile or the tracking loop is active.
//
// Usage:
//
//	go run ./cmd/cli -port /dev/ttyACM0
//	> {"command": "get_params"}
//	> {"command": "sinusoid", "amplitude": 30, "period": 2, "phase": 0, "offset": 0, "num_cycle": 3}
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"autostep"
)

func main() {
	port := flag.String("port", "/dev/ttyACM0", "serial port of the Autostep controller")
	baud := flag.Int("baud", 115200, "serial baudrate")
	gain := flag.Float64("gain", 5.0, "tracking loop proportional gain")
	flag.Parse()

	logger := logging.NewLogger("autostep-cli")

	core, err := autostep.NewCore(*port, *baud, *gain, 10*time.Millisecond, logger)
	if err != nil {
		logger.Fatalf("failed to connect: %v", err)
	}
	defer func() {
		if err := core.Close(); err != nil {
			logger.Warnf("shutdown error: %v", err)
		}
	}()

	samples, cancelSub := core.Hub.Subscribe(64)
	defer cancelSub()
	utils.PanicCapturingGo(func() {
		for s := range samples {
			fmt.Printf("  [telemetry] t=%.3f position=%.3f setpoint=%.3f sensor=%.3f\n",
				s.Elapsed, s.Position, s.Setpoint, s.Sensor)
		}
	})

	fmt.Println("Connected. Enter one JSON command per line, e.g. {\"command\": \"get_position\"}")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var cmd map[string]interface{}
		if err := json.Unmarshal(line, &cmd); err != nil {
			fmt.Printf("invalid JSON: %v\n", err)
			continue
		}

		resp, err := dispatch(core, cmd)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		out, err := json.Marshal(resp)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(string(out))
	}
	if err := scanner.Err(); err != nil {
		logger.Errorf("stdin read error: %v", err)
	}
}

func dispatch(core *autostep.Core, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("missing command value")
	}

	if name == "tracking_sample" {
		position, posOK := cmd["position"].(float64)
		velocity, velOK := cmd["velocity"].(float64)
		if !posOK || !velOK {
			return nil, fmt.Errorf("tracking_sample requires position and velocity values")
		}
		if err := core.Tracker.HandleSample(autostep.TrackingSample{Position: position, Velocity: velocity}); err != nil {
			return nil, err
		}
		return map[string]interface{}{"success": true}, nil
	}

	args := make(map[string]interface{}, len(cmd))
	for k, v := range cmd {
		if k != "command" {
			args[k] = v
		}
	}
	return core.Router.Dispatch(name, args).Response(), nil
}
