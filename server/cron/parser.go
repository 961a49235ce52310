package cron

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/nomis52/dpm/pm"
)

const (
	triggerSeparator = ";"
	messageSeparator = ":"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// TriggerSpec is one parsed schedule entry.
type TriggerSpec struct {
	Message  pm.Message
	CronSpec string
}

// ParseTriggerSpecs parses a schedule of the form
//
//	[message:]cron_expression;[message:]cron_expression...
//
// Example:
//
//	"0 2 * * *;hibernate:0 3 * * 0"
//
// Entries without a message use defaultMsg. Every message must be a sleep
// message and no entry may be repeated.
func ParseTriggerSpecs(spec string, defaultMsg pm.Message) ([]TriggerSpec, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("cron spec cannot be empty")
	}

	var specs []TriggerSpec
	seen := make(map[TriggerSpec]bool)
	for _, triggerStr := range strings.Split(spec, triggerSeparator) {
		triggerStr = strings.TrimSpace(triggerStr)
		if triggerStr == "" {
			continue // trailing semicolon
		}

		ts, err := parseSingleTrigger(triggerStr, defaultMsg)
		if err != nil {
			return nil, err
		}
		if seen[ts] {
			return nil, fmt.Errorf("invalid trigger spec: duplicate entry '%s'", triggerStr)
		}
		seen[ts] = true
		specs = append(specs, ts)
	}

	if len(specs) == 0 {
		return nil, errors.New("no valid triggers found in cron spec")
	}
	return specs, nil
}

func parseSingleTrigger(triggerStr string, defaultMsg pm.Message) (TriggerSpec, error) {
	msg := defaultMsg
	cronSpec := triggerStr
	if before, after, found := strings.Cut(triggerStr, messageSeparator); found {
		m, err := pm.ParseMessage(strings.TrimSpace(before))
		if err != nil {
			return TriggerSpec{}, fmt.Errorf("invalid trigger spec '%s': %w", triggerStr, err)
		}
		msg = m
		cronSpec = strings.TrimSpace(after)
	}

	if !msg.IsSleep() {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec '%s': %w: %s is not a sleep message",
			triggerStr, pm.ErrInvalidMessage, msg)
	}
	if cronSpec == "" {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: missing cron schedule in '%s'", triggerStr)
	}
	if _, err := parser.Parse(cronSpec); err != nil {
		return TriggerSpec{}, fmt.Errorf("invalid trigger spec: invalid cron expression in '%s': %w", triggerStr, err)
	}

	return TriggerSpec{Message: msg, CronSpec: cronSpec}, nil
}
