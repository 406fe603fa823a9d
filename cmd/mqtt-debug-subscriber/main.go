// Command mqtt-debug-subscriber dumps decoded sensor telemetry messages as
// they cross the MQTT bus, for manual inspection of what the Bridge is
// actually publishing without standing up the full Ingestion pipeline.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/waggle-hive/hivehub/internal/config"
	"github.com/waggle-hive/hivehub/internal/model"
	"github.com/waggle-hive/hivehub/internal/mqttclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	subscribeTopic := getenv("MQTT_DEBUG_TOPIC", "waggle/+/sensors")

	mqttCli, err := mqttclient.NewFromConfig(cfg, "hivehub-debug-subscriber")
	if err != nil {
		log.Fatalf("mqtt connect: %v", err)
	}
	defer mqttCli.Close()

	log.Printf("[debug] subscribed to topic: %s", subscribeTopic)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	if err := mqttCli.Subscribe(subscribeTopic, 1, handleMessage); err != nil {
		log.Fatalf("subscribe %s: %v", subscribeTopic, err)
	}

	go func() {
		<-sig
		log.Println("[debug] signal received, shutting down")
		cancel()
	}()

	<-ctx.Done()
	time.Sleep(500 * time.Millisecond)
}

func handleMessage(topic string, payload []byte) {
	log.Printf("[debug] message on %s (%d bytes)", topic, len(payload))

	var msg model.WireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("[debug] undecodable payload: %v, raw=%s", err, string(payload))
		return
	}

	pretty, _ := json.MarshalIndent(msg, "", "  ")
	log.Printf("[debug] decoded wire message:\n%s", string(pretty))
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
