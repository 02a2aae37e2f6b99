package gateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hercules-io/hercules/internal/models"
	"gorm.io/datatypes"
)

// CommandsSignal is the signal bus topic notified when commands are queued for a gateway.
func CommandsSignal(gatewayID uuid.UUID) string {
	return fmt.Sprintf("/gateways/%s/commands", gatewayID)
}

// Enqueue queues a command for the gateway.
func (s *Service) Enqueue(ctx context.Context, gatewayID uuid.UUID, request models.AddGatewayCommand) (*models.GatewayCommand, error) {
	ctx, span := tracer.Start(ctx, "Enqueue")
	defer span.End()

	if !request.CommandType.Valid() {
		return nil, invalid("command_type", fmt.Sprintf("unknown command type %q", request.CommandType))
	}
	priority := request.Priority
	if priority == 0 {
		priority = s.config.CommandPriority
	}
	if priority < 1 || priority > 10 {
		return nil, invalid("priority", "must be between 1 and 10")
	}
	ttl := request.TTL.Duration()
	if ttl < 0 {
		return nil, invalid("ttl", "must not be negative")
	}
	if ttl == 0 {
		ttl = s.config.CommandTTL
	}
	maxRetries := s.config.CommandMaxRetries
	if request.MaxRetries != nil {
		maxRetries = *request.MaxRetries
	}
	if maxRetries < 0 {
		return nil, invalid("max_retries", "must not be negative")
	}

	gw, err := s.store.GetGateway(ctx, gatewayID)
	if err != nil {
		return nil, err
	}
	if gw.Status == models.GatewayStatusDeleted {
		return nil, fmt.Errorf("gateway %w", ErrNotFound)
	}

	cmd := &models.GatewayCommand{
		GatewayID:   gatewayID,
		CommandType: request.CommandType,
		CommandData: request.CommandData,
		Status:      models.CommandStatusPending,
		Priority:    priority,
		MaxRetries:  maxRetries,
		ExpiresAt:   s.now().Add(ttl),
	}
	if err := s.store.CreateCommand(ctx, cmd); err != nil {
		return nil, err
	}
	if s.signalBus != nil {
		s.signalBus.Notify(CommandsSignal(gatewayID))
	}
	return cmd, nil
}

// DrainDue hands out the gateway's due commands, highest priority first.  Each command is
// handed out once per delivery attempt.
func (s *Service) DrainDue(ctx context.Context, gatewayID uuid.UUID, maxBatch int) ([]models.GatewayCommand, error) {
	ctx, span := tracer.Start(ctx, "DrainDue")
	defer span.End()

	cmds, err := s.store.ClaimDueCommands(ctx, gatewayID, s.clampBatch(maxBatch), s.now())
	if err != nil {
		return nil, err
	}
	commandsDispatchedTotal.Add(float64(len(cmds)))
	return cmds, nil
}

// Acknowledge records that the gateway received a command.  Late or repeated acknowledgements
// are ignored.
func (s *Service) Acknowledge(ctx context.Context, gatewayID, commandID uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "Acknowledge")
	defer span.End()

	return s.transition(ctx, gatewayID, commandID,
		[]models.CommandStatus{models.CommandStatusSent},
		models.CommandStatusAcknowledged,
		map[string]interface{}{
			"status":          models.CommandStatusAcknowledged,
			"acknowledged_at": s.now(),
		})
}

// Complete records the result of a command.
func (s *Service) Complete(ctx context.Context, gatewayID, commandID uuid.UUID, result datatypes.JSON) error {
	ctx, span := tracer.Start(ctx, "Complete")
	defer span.End()

	if len(result) == 0 {
		result = datatypes.JSON("null")
	}
	return s.transition(ctx, gatewayID, commandID, openCommandStates, models.CommandStatusCompleted,
		map[string]interface{}{
			"status":       models.CommandStatusCompleted,
			"completed_at": s.now(),
			"result":       result,
		})
}

// Fail records that a command could not be carried out.
func (s *Service) Fail(ctx context.Context, gatewayID, commandID uuid.UUID, message string) error {
	ctx, span := tracer.Start(ctx, "Fail")
	defer span.End()

	return s.transition(ctx, gatewayID, commandID, openCommandStates, models.CommandStatusFailed,
		map[string]interface{}{
			"status":        models.CommandStatusFailed,
			"completed_at":  s.now(),
			"error_message": message,
		})
}

// a sent command may be completed without an acknowledgement
var openCommandStates = []models.CommandStatus{
	models.CommandStatusPending,
	models.CommandStatusSent,
	models.CommandStatusAcknowledged,
}

func (s *Service) transition(ctx context.Context, gatewayID, commandID uuid.UUID, from []models.CommandStatus, to models.CommandStatus, updates map[string]interface{}) error {
	changed, err := s.store.TransitionCommand(ctx, gatewayID, commandID, from, updates)
	if err != nil {
		return err
	}
	if changed {
		commandTransitionsTotal.WithLabelValues(string(to)).Inc()
		return nil
	}

	cmd, err := s.store.GetCommand(ctx, commandID)
	if err != nil {
		return err
	}
	if cmd.GatewayID != gatewayID {
		return fmt.Errorf("command %w", ErrNotFound)
	}
	if cmd.Status.Terminal() {
		s.Logger(ctx).Debugw("command already finished", "command", commandID, "status", cmd.Status, "to", to)
		return nil
	}
	s.Logger(ctx).Debugw("ignoring command transition", "command", commandID, "status", cmd.Status, "to", to)
	return nil
}

// GetCommand returns a command of the gateway.
func (s *Service) GetCommand(ctx context.Context, gatewayID, commandID uuid.UUID) (*models.GatewayCommand, error) {
	cmd, err := s.store.GetCommand(ctx, commandID)
	if err != nil {
		return nil, err
	}
	if cmd.GatewayID != gatewayID {
		return nil, fmt.Errorf("command %w", ErrNotFound)
	}
	return cmd, nil
}
