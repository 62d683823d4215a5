package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"time"

	"harvester/engine"
	"harvester/engine/checker"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Redis connection info
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "harvester_redis:6379"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	ctx := context.Background()

	log.Println("Runner started, listening for submission batches on Redis at:", redisAddr)

	for {
		// Block until the engine queues a batch (no timeout here).
		val, err := rdb.BLPop(ctx, 0, "submissions").Result()
		if err != nil {
			log.Println("Failed to pop task from Redis:", err)
			continue
		}

		// val[0] = "submissions", val[1] = the JSON payload
		if len(val) < 2 {
			log.Println("Invalid BLPop response:", val)
			continue
		}

		var task engine.Task
		if err := json.Unmarshal([]byte(val[1]), &task); err != nil {
			log.Println("Invalid task format:", err)
			continue
		}
		log.Printf("[Runner] Received batch %s with %d flags for %s", task.BatchID, len(task.Codes), task.URL)

		result := engine.TaskResult{BatchID: task.BatchID}

		timeout := time.Until(task.Deadline)
		if timeout <= 0 {
			result.Error = "batch deadline already passed"
		} else {
			client := checker.New(task.URL, task.Protocol, task.Token, timeout)
			taskCtx, cancel := context.WithDeadline(ctx, task.Deadline)
			responses, err := client.Submit(taskCtx, task.Codes)
			cancel()
			switch {
			case errors.Is(err, checker.ErrProtocol):
				result.Error = "protocol"
				log.Printf("[Runner] Checker sent an unparseable response for batch %s: %v", task.BatchID, err)
			case err != nil:
				result.Error = err.Error()
				log.Printf("[Runner] Dispatch failed for batch %s: %v", task.BatchID, err)
			default:
				result.Responses = responses
			}
		}

		resultJSON, _ := json.Marshal(result)

		if err := rdb.RPush(ctx, engine.ResultQueue(task.BatchID), resultJSON).Err(); err != nil {
			log.Printf("Failed to push result for batch %s to Redis: %v", task.BatchID, err)
		} else {
			log.Printf("Pushed result for batch %s (%d flags)", task.BatchID, len(task.Codes))
		}
	}
}
