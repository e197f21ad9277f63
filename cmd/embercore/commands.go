package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/emberhaus/ember-core/internal/execution"
	"github.com/emberhaus/ember-core/internal/infrastructure/logging"
	"github.com/emberhaus/ember-core/internal/infrastructure/mqtt"
	"github.com/emberhaus/ember-core/internal/validation"
)

// wireRunCommand subscribes the validate-and-execute path to the inbound
// command topic. The payload is an automation spec; the outcome reaches
// observers through the engine, so nothing is published here beyond
// validation rejections in the log.
func wireRunCommand(ctx context.Context, client *mqtt.Client, pipeline *validation.Pipeline, engine *execution.Engine, homeID string, log *logging.Logger) error {
	handler := func(topic string, payload []byte) error {
		var spec validation.AutomationSpec
		if err := json.Unmarshal(payload, &spec); err != nil {
			return fmt.Errorf("decoding run command: %w", err)
		}

		result := pipeline.Validate(ctx, &spec)
		if !result.Valid {
			log.Warn("run command rejected by validation",
				"spec_id", spec.ID,
				"errors", result.Errors,
			)
			return nil
		}
		for _, warning := range result.Warnings {
			log.Info("run command validation warning", "spec_id", spec.ID, "warning", warning)
		}

		res, err := engine.Execute(ctx, result.Plan, &spec, "")
		if err != nil {
			log.Warn("run command execution incomplete",
				"spec_id", spec.ID,
				"home_id", homeID,
				"error", err,
			)
			return nil
		}
		log.Info("run command executed",
			"spec_id", spec.ID,
			"correlation_id", res.CorrelationID,
			"status", string(res.Status),
		)
		return nil
	}

	return client.Subscribe(mqtt.Topics{}.CommandRun(), handler)
}
