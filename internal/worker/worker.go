package worker

import (
	"context"
	"encoding/json"
	"sync"

	"services/trading-simulation-service/internal/service"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Worker consumes simulation run tasks and drives the engine. Delivery
// is at-least-once; the engine's running-status gate plus the in-process
// active set make duplicate deliveries harmless.
type Worker struct {
	reader *kafka.Reader
	engine *service.Engine
	logger *zap.Logger

	mu     sync.Mutex
	active map[int]struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a run task consumer bound to the given consumer group
func NewWorker(brokers []string, topic, groupID string, engine *service.Engine, logger *zap.Logger) *Worker {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})

	return &Worker{
		reader: reader,
		engine: engine,
		logger: logger,
		active: make(map[int]struct{}),
	}
}

// Start consumes run tasks until the context is canceled. Each task runs
// in its own goroutine; simulations are long-lived, so the consumer must
// not block behind a running engine.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Simulation worker started")

	for {
		msg, err := w.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("Failed to read run task", zap.Error(err))
			continue
		}

		var task RunTask
		if err := json.Unmarshal(msg.Value, &task); err != nil {
			w.logger.Error("Discarding malformed run task",
				zap.ByteString("value", msg.Value),
				zap.Error(err))
			continue
		}

		if !w.claim(task.SimulationID) {
			w.logger.Warn("Duplicate run task for active simulation, skipping",
				zap.Int("simulation_id", task.SimulationID))
			continue
		}

		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			defer w.release(id)

			if err := w.engine.Run(ctx, id); err != nil {
				w.logger.Error("Simulation run failed",
					zap.Int("simulation_id", id),
					zap.Error(err))
			}
		}(task.SimulationID)
	}

	w.wg.Wait()
	w.logger.Info("Simulation worker stopped")
}

// claim reserves a simulation ID in the in-process active set
func (w *Worker) claim(id int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, running := w.active[id]; running {
		return false
	}
	w.active[id] = struct{}{}
	return true
}

func (w *Worker) release(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.active, id)
}

// Close closes the underlying Kafka reader
func (w *Worker) Close() error {
	return w.reader.Close()
}
