// mic-task is the side-channel helper placed on the spawned agent's
// PATH. It lets the agent set result, status, and deploy fields on its
// own task record through the worker's loopback bridge.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/yazinsai/mic-worker/internal/bridge"
)

func main() {
	if len(os.Args) < 2 || os.Args[1] != "set" {
		die("usage: mic-task set [-result TEXT] [-status STATUS] [-deploy-url URL] [-deploy-label LABEL]")
	}

	fs := flag.NewFlagSet("set", flag.ExitOnError)
	result := fs.String("result", "", "result text to record on the task")
	status := fs.String("status", "", "status to set (completed, failed, awaiting-feedback)")
	deployURL := fs.String("deploy-url", "", "deployment URL to record")
	deployLabel := fs.String("deploy-label", "", "label for the deployment URL")
	taskID := fs.String("task", os.Getenv("MIC_TASK_ID"), "task id (defaults to MIC_TASK_ID)")
	addr := fs.String("addr", os.Getenv("MIC_BRIDGE_ADDR"), "bridge address (defaults to MIC_BRIDGE_ADDR)")
	if err := fs.Parse(os.Args[2:]); err != nil {
		die("parse flags: %v", err)
	}

	if strings.TrimSpace(*taskID) == "" {
		die("no task id: pass -task or set MIC_TASK_ID")
	}
	if strings.TrimSpace(*addr) == "" {
		die("no bridge address: pass -addr or set MIC_BRIDGE_ADDR")
	}

	update := bridge.TaskUpdate{
		TaskID:      *taskID,
		Result:      *result,
		Status:      *status,
		DeployURL:   *deployURL,
		DeployLabel: *deployLabel,
	}
	body, err := json.Marshal(update)
	if err != nil {
		die("encode update: %v", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post("http://"+*addr+"/update", "application/json", bytes.NewReader(body))
	if err != nil {
		die("post update: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		die("bridge rejected update: %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	fmt.Printf("task %s updated\n", *taskID)
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
