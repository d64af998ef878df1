package app

import (
	"context"
	"fmt"

	"vitalwatch/internal/model"
)

// Simulate asks the health service to inject an accident for the configured
// subject. The outcome shows up in later snapshots, not here.
func (a *App) Simulate(ctx context.Context, rawType string) error {
	accidentType, err := model.ParseAccidentType(rawType)
	if err != nil {
		return fmt.Errorf("%w (valid: %v)", err, model.AccidentTypes)
	}

	client := a.newClient(a.Logger)
	if err := client.SendSimulate(ctx, a.Config.Service.SubjectID, accidentType); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s simulation accepted for %s\n", accidentType.Label(), a.Config.Service.SubjectID)
	return nil
}
