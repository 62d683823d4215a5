package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"harvester/engine/checker"
	"harvester/engine/config"
	"harvester/engine/db"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SubmissionEngine drives the flag lifecycle: it sweeps expired flags,
// collects eligible ones on a fixed cadence, batches them under the size
// limit, and applies the checker's verdicts. One engine instance owns a flag
// population; duplicate concurrent dispatch is prevented by the optimistic
// flip to submitted, not by an external lock.
type SubmissionEngine struct {
	ConfigManager *config.Manager
	RedisClient   *redis.Client

	// mu guards the pause state and cycle counter, which the API goroutine
	// and the scheduler goroutine both touch
	mu           sync.Mutex
	pauseWg      *sync.WaitGroup
	paused       bool
	currentCycle int

	// signals
	ResetChan chan struct{}
}

// dispatchFlag is a batch member with enough state to roll back a dispatch
// that never reached the checker.
type dispatchFlag struct {
	ID    string
	Code  string
	Prior string
}

// cycleSummary aggregates per-verdict counts for the end-of-cycle log line.
type cycleSummary struct {
	mu         sync.Mutex
	accepted   int
	denied     int
	resubmit   int
	errored    int
	rolledBack int
}

func (s *cycleSummary) add(accepted, denied, resubmit, errored, rolledBack int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted += accepted
	s.denied += denied
	s.resubmit += resubmit
	s.errored += errored
	s.rolledBack += rolledBack
}

func NewEngine(cm *config.Manager) *SubmissionEngine {
	se := &SubmissionEngine{
		ConfigManager: cm,
		pauseWg:       &sync.WaitGroup{},
		ResetChan:     make(chan struct{}),
	}

	if addr := cm.Get().MiscSettings.RedisAddr; addr != "" {
		se.RedisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cm.Get().MiscSettings.RedisPassword,
		})
	}

	return se
}

// Start runs the scheduler until a reset is signalled. The caller restarts
// it in a loop, so a reset picks up fresh state.
func (se *SubmissionEngine) Start() {
	conf := se.ConfigManager.Get()

	se.mu.Lock()
	se.paused = false
	se.pauseWg = &sync.WaitGroup{}
	if conf.MiscSettings.StartPaused {
		se.paused = true
		se.pauseWg.Add(1)
	}
	se.mu.Unlock()

	stop := make(chan struct{})

	// expiry sweeper, independent of the submission cadence so flags expire
	// even when the checker is unreachable
	go func() {
		for {
			conf := se.ConfigManager.Get()
			select {
			case <-stop:
				return
			case <-time.After(time.Duration(conf.SubmitSettings.SubmitPeriod) * time.Second):
				se.sweepExpired(conf)
			}
		}
	}()

	// scheduler loop
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}

			se.waitWhilePaused()
			se.nextCycle()

			conf := se.ConfigManager.Get()
			cycleStart := time.Now()
			se.runCycle(conf)

			time.Sleep(time.Until(cycleStart.Add(time.Duration(conf.SubmitSettings.SubmitPeriod) * time.Second)))
		}
	}()

	<-se.ResetChan
	close(stop)
	slog.Info("engine loop ending (probably due to reset)")
}

func (se *SubmissionEngine) PauseEngine() {
	se.mu.Lock()
	defer se.mu.Unlock()
	if !se.paused {
		se.pauseWg.Add(1)
		se.paused = true
	}
}

func (se *SubmissionEngine) ResumeEngine() {
	se.mu.Lock()
	defer se.mu.Unlock()
	if se.paused {
		se.pauseWg.Done()
		se.paused = false
	}
}

// IsPaused reports whether the scheduler is currently held.
func (se *SubmissionEngine) IsPaused() bool {
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.paused
}

// waitWhilePaused blocks the scheduler goroutine while the engine is paused.
func (se *SubmissionEngine) waitWhilePaused() {
	se.mu.Lock()
	wg := se.pauseWg
	se.mu.Unlock()
	wg.Wait()
}

func (se *SubmissionEngine) nextCycle() {
	se.mu.Lock()
	defer se.mu.Unlock()
	se.currentCycle++
}

// CycleCount returns how many scheduler cycles have run since the last reset.
func (se *SubmissionEngine) CycleCount() int {
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.currentCycle
}

// ResetFlags wipes the flag population and restarts the engine loop.
func (se *SubmissionEngine) ResetFlags() error {
	slog.Info("resetting flags")
	se.ResetChan <- struct{}{}
	if err := db.ResetFlags(); err != nil {
		slog.Error("failed to reset flags", "error", err)
		return fmt.Errorf("failed to reset flags: %v", err)
	}
	se.mu.Lock()
	se.currentCycle = 0
	se.mu.Unlock()
	slog.Info("flags reset successfully")
	return nil
}

func (se *SubmissionEngine) sweepExpired(conf *config.ConfigSettings) {
	expired, err := db.ExpireOverdue(time.Now().Unix(), conf.SubmitSettings.FlagLifetime)
	if err != nil {
		slog.Error("failed to expire overdue flags", "error", err)
		return
	}
	if expired > 0 {
		slog.Info("expired overdue flags", "count", expired)
	}
}

// runCycle performs one scheduler pass: collect, batch, flip, dispatch.
func (se *SubmissionEngine) runCycle(conf *config.ConfigSettings) {
	now := time.Now().Unix()

	flags, err := db.GetEligibleFlags(now, conf.SubmitSettings.FlagLifetime, conf.SubmitSettings.AttemptCap, 0)
	if err != nil {
		slog.Error("failed to get eligible flags", "error", err)
		return
	}
	if len(flags) == 0 {
		slog.Debug("no flags to submit")
		return
	}

	slog.Info("submitting flags to checker", "cycle", se.CycleCount(), "count", len(flags))

	batches := se.prepareBatches(flags, conf.SubmitSettings.BatchLimit)
	if len(batches) == 0 {
		return
	}

	summary := &cycleSummary{}

	// dispatches are independent across batches, bounded so the checker
	// isn't overwhelmed
	sem := make(chan struct{}, conf.SubmitSettings.MaxConcurrent)
	var wg sync.WaitGroup
	for _, batch := range batches {
		wg.Add(1)
		sem <- struct{}{}
		go func(batch []dispatchFlag) {
			defer wg.Done()
			defer func() { <-sem }()
			se.dispatchBatch(conf, batch, summary)
		}(batch)
	}
	wg.Wait()

	slog.Info("flags update summary",
		"cycle", se.CycleCount(),
		"accepted", summary.accepted,
		"denied", summary.denied,
		"resubmit", summary.resubmit,
		"errored", summary.errored,
		"rolled_back", summary.rolledBack,
	)
}

// prepareBatches partitions eligible flags in discovery order and flips each
// member to submitted before dispatch. A flag whose flip loses the race (an
// overlapping sweep or reset) is dropped from the batch.
func (se *SubmissionEngine) prepareBatches(flags []db.FlagSchema, batchLimit int) [][]dispatchFlag {
	var batches [][]dispatchFlag
	current := make([]dispatchFlag, 0, batchLimit)

	for _, flag := range flags {
		ok, err := db.CompareAndSetStatus(flag.ID, flag.Status, db.StatusSubmitted)
		if err != nil {
			slog.Error("failed to mark flag submitted", "flag", flag.Code, "error", err)
			continue
		}
		if !ok {
			slog.Debug("flag changed status before dispatch, skipping", "flag", flag.Code)
			continue
		}

		current = append(current, dispatchFlag{ID: flag.ID, Code: flag.Code, Prior: flag.Status})
		if len(current) == batchLimit {
			batches = append(batches, current)
			current = make([]dispatchFlag, 0, batchLimit)
		}
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}

// dispatchBatch sends one batch through the checker protocol adapter (either
// in-process or via a queue runner) and applies the outcome.
func (se *SubmissionEngine) dispatchBatch(conf *config.ConfigSettings, batch []dispatchFlag, summary *cycleSummary) {
	codes := make([]string, 0, len(batch))
	for _, f := range batch {
		codes = append(codes, f.Code)
	}

	timeout := time.Duration(conf.SubmitSettings.CheckerTimeout) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var responses []checker.Response
	var err error
	if se.RedisClient != nil {
		responses, err = se.dispatchQueued(ctx, conf, codes, timeout)
	} else {
		client := checker.New(conf.CheckerSettings.CheckerURL, conf.CheckerSettings.CheckerProtocol, conf.CheckerSettings.CheckerToken, timeout)
		responses, err = client.Submit(ctx, codes)
	}

	if err != nil {
		if errors.Is(err, checker.ErrProtocol) {
			// the checker answered but we couldn't parse it: the flags were
			// possibly seen, so retry later instead of replaying immediately
			slog.Error("checker response unparseable, deferring batch", "error", err)
			n := se.deferBatch(batch)
			summary.add(0, 0, n, 0, 0)
			return
		}
		// the request never completed: roll every flag back to where it was
		slog.Error("checker dispatch failed, rolling batch back", "size", len(batch), "error", err)
		n := se.rollbackBatch(batch)
		summary.add(0, 0, 0, 0, n)
		return
	}

	se.applyVerdicts(conf, batch, responses, summary)
}

// dispatchQueued hands the batch to an external runner over Redis and waits
// for its result.
func (se *SubmissionEngine) dispatchQueued(ctx context.Context, conf *config.ConfigSettings, codes []string, timeout time.Duration) ([]checker.Response, error) {
	task := Task{
		BatchID:  uuid.New().String(),
		Codes:    codes,
		URL:      conf.CheckerSettings.CheckerURL,
		Protocol: conf.CheckerSettings.CheckerProtocol,
		Token:    conf.CheckerSettings.CheckerToken,
		Deadline: time.Now().Add(timeout),
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := se.RedisClient.RPush(ctx, "submissions", payload).Err(); err != nil {
		return nil, fmt.Errorf("failed to push task to redis: %w", err)
	}

	val, err := se.RedisClient.BLPop(ctx, timeout, ResultQueue(task.BatchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("no result from runner: %w", err)
	}
	if len(val) < 2 {
		return nil, fmt.Errorf("invalid BLPop response: %v", val)
	}

	var result TaskResult
	if err := json.Unmarshal([]byte(val[1]), &result); err != nil {
		return nil, fmt.Errorf("invalid task result format: %w", err)
	}
	if result.Error != "" {
		if result.Error == "protocol" {
			return nil, checker.ErrProtocol
		}
		return nil, errors.New(result.Error)
	}

	return result.Responses, nil
}

// rollbackBatch returns every flag to its pre-dispatch status after a failed
// or abandoned dispatch. Attempts are untouched since no check was initiated.
func (se *SubmissionEngine) rollbackBatch(batch []dispatchFlag) int {
	rolledBack := 0
	for _, f := range batch {
		ok, err := db.CompareAndSetStatus(f.ID, db.StatusSubmitted, f.Prior)
		if err != nil {
			slog.Error("failed to roll back flag", "flag", f.Code, "error", err)
			continue
		}
		if ok {
			rolledBack++
		}
	}
	return rolledBack
}

// deferBatch parks every flag for the next cycle when the checker's answer
// could not be trusted.
func (se *SubmissionEngine) deferBatch(batch []dispatchFlag) int {
	deferred := 0
	now := time.Now().Unix()
	for _, f := range batch {
		ok, err := db.ResolveFlag(f.ID, db.StatusResubmit, now, "unparseable checker response")
		if err != nil {
			slog.Error("failed to defer flag", "flag", f.Code, "error", err)
			continue
		}
		if ok {
			deferred++
		}
	}
	return deferred
}

// applyVerdicts correlates verdicts to flags by code and applies the
// lifecycle transition for each. A flag the checker did not answer for is
// parked for resubmission, never accepted or denied.
func (se *SubmissionEngine) applyVerdicts(conf *config.ConfigSettings, batch []dispatchFlag, responses []checker.Response, summary *cycleSummary) {
	byCode := make(map[string]checker.Response, len(responses))
	for _, resp := range responses {
		byCode[resp.Flag] = resp
	}

	now := time.Now().Unix()
	accepted, denied, resubmit, errored := 0, 0, 0, 0

	for _, f := range batch {
		resp, ok := byCode[f.Code]
		if !ok {
			if _, err := db.ResolveFlag(f.ID, db.StatusResubmit, now, "no verdict from checker"); err != nil {
				slog.Error("failed to park unanswered flag", "flag", f.Code, "error", err)
			}
			resubmit++
			continue
		}

		switch resp.Verdict() {
		case checker.VerdictAccepted:
			if _, err := db.ResolveFlag(f.ID, db.StatusAccepted, now, resp.Msg); err != nil {
				slog.Error("failed to accept flag", "flag", f.Code, "error", err)
				continue
			}
			accepted++

		case checker.VerdictDenied:
			if _, err := db.ResolveFlag(f.ID, db.StatusDenied, now, resp.Msg); err != nil {
				slog.Error("failed to deny flag", "flag", f.Code, "error", err)
				continue
			}
			denied++

		case checker.VerdictResubmit:
			// eligible again next cycle, attempt counter untouched
			if _, err := db.ResolveFlag(f.ID, db.StatusUnsubmitted, now, resp.Msg); err != nil {
				slog.Error("failed to requeue flag", "flag", f.Code, "error", err)
				continue
			}
			resubmit++

		default:
			status, err := db.MarkErrored(f.ID, conf.SubmitSettings.AttemptCap, now, resp.Msg)
			if err != nil {
				slog.Error("failed to mark flag errored", "flag", f.Code, "error", err)
				continue
			}
			if status == db.StatusErroredFinal {
				slog.Warn("flag exceeded attempt cap, retiring", "flag", f.Code)
			}
			errored++
		}
	}

	summary.add(accepted, denied, resubmit, errored, 0)
}
