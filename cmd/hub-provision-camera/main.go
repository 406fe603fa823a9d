// Command hub-provision-camera registers a new camera identity: it
// generates a random API key, bcrypt-hashes it, inserts the camera_nodes
// row, and prints the plaintext key once. The hash is the only copy kept;
// losing the printed key means re-provisioning with a fresh one.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/waggle-hive/hivehub/internal/config"
	"github.com/waggle-hive/hivehub/internal/db"
	"github.com/waggle-hive/hivehub/internal/model"
	"github.com/waggle-hive/hivehub/internal/security"
)

func main() {
	deviceID := flag.String("device-id", "", "camera node device id (required)")
	hiveID := flag.Int("hive-id", 0, "hive id the camera is mounted on (required)")
	flag.Parse()

	if *deviceID == "" || *hiveID == 0 {
		fmt.Fprintln(os.Stderr, "usage: hub-provision-camera -device-id=<id> -hive-id=<id>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()
	repo := db.New(conn)

	apiKey, err := generateAPIKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate api key: %v\n", err)
		os.Exit(1)
	}

	hash, err := security.HashAPIKey(apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash api key: %v\n", err)
		os.Exit(1)
	}

	node := model.CameraNode{
		DeviceID:   *deviceID,
		HiveID:     *hiveID,
		APIKeyHash: hash,
		CreatedAt:  model.NowUTC(),
	}
	if err := repo.RegisterCameraNode(context.Background(), node); err != nil {
		fmt.Fprintf(os.Stderr, "register camera node: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("camera node %s registered for hive %d\n", *deviceID, *hiveID)
	fmt.Printf("api key (shown once, store it now): %s\n", apiKey)
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
