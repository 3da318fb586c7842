// Command mqttv3 publishes and subscribes to an MQTT 3.1.1 broker.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
