package worker

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// RunTask is the payload published for each claimed simulation run
type RunTask struct {
	SimulationID int `json:"simulation_id"`
}

// Dispatcher publishes simulation run tasks to Kafka. The lifecycle
// controller only publishes after the pending to running claim has
// succeeded, so every message on the topic refers to a claimed run.
type Dispatcher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewDispatcher creates a Kafka-backed run task dispatcher
func NewDispatcher(brokers []string, topic string, logger *zap.Logger) *Dispatcher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	return &Dispatcher{
		writer: writer,
		logger: logger,
	}
}

// DispatchRun publishes a run task for the given simulation. The
// simulation ID is the message key so retries of the same run land on
// the same partition.
func (d *Dispatcher) DispatchRun(ctx context.Context, simulationID int) error {
	value, err := json.Marshal(RunTask{SimulationID: simulationID})
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(strconv.Itoa(simulationID)),
		Value: value,
		Time:  time.Now(),
	}

	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		d.logger.Error("Failed to publish run task",
			zap.Int("simulation_id", simulationID),
			zap.Error(err))
		return err
	}

	d.logger.Debug("Run task published",
		zap.Int("simulation_id", simulationID))

	return nil
}

// Close closes the underlying Kafka writer
func (d *Dispatcher) Close() error {
	return d.writer.Close()
}
