package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"vitalwatch/internal/model"
)

func accidentTypeNames() []string {
	names := make([]string, 0, len(model.AccidentTypes))
	for _, t := range model.AccidentTypes {
		names = append(names, string(t))
	}
	return names
}

var simulateCmd = &cobra.Command{
	Use:       "simulate <" + strings.Join(accidentTypeNames(), "|") + ">",
	Short:     "Ask the health service to simulate an accident",
	Args:      cobra.ExactArgs(1),
	ValidArgs: accidentTypeNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Simulate(cmd.Context(), args[0])
	},
}
