package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	loggingpkg "github.com/drblury/xappflow/internal/runtime/logging"
)

const alarmsPath = "ric/v1/alarms"

// ManagedObjectID identifies the platform in every alarm.
const ManagedObjectID = "RIC"

// AlarmSeverity is the perceived severity of an alarm.
type AlarmSeverity string

const (
	AlarmSeverityUnspecified AlarmSeverity = "UNSPECIFIED"
	AlarmSeverityMajor       AlarmSeverity = "MAJOR"
	AlarmSeverityMinor       AlarmSeverity = "MINOR"
	AlarmSeverityWarning     AlarmSeverity = "WARNING"
	AlarmSeverityCleared     AlarmSeverity = "CLEARED"
	AlarmSeverityDefault     AlarmSeverity = "DEFAULT"
)

// AlarmAction tells the alarm manager what to do with an alarm.
type AlarmAction string

const (
	AlarmActionRaise    AlarmAction = "RAISE"
	AlarmActionClear    AlarmAction = "CLEAR"
	AlarmActionClearAll AlarmAction = "CLEARALL"
)

type Alarm struct {
	ManagedObjectID   string        `json:"managedObjectId"`
	ApplicationID     string        `json:"applicationId"`
	SpecificProblem   int           `json:"specificProblem"`
	PerceivedSeverity AlarmSeverity `json:"perceivedSeverity"`
	IdentifyingInfo   string        `json:"identifyingInfo"`
	AdditionalInfo    string        `json:"additionalInfo"`
}

// AlarmMessage is the document posted to the alarm manager.
type AlarmMessage struct {
	Alarm       Alarm       `json:"Alarm"`
	AlarmAction AlarmAction `json:"AlarmAction"`
	// AlarmTime is in seconds since the epoch.
	AlarmTime int64 `json:"AlarmTime"`
}

// AlarmClient posts alarms to the alarm manager.
type AlarmClient struct {
	url           string
	applicationID string
	http          *http.Client
	logger        loggingpkg.ServiceLogger
	now           func() time.Time
}

// NewAlarmClient returns a client posting to baseURL on behalf of applicationID.
func NewAlarmClient(baseURL, applicationID string, client *http.Client, logger loggingpkg.ServiceLogger) *AlarmClient {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}
	return &AlarmClient{
		url:           baseURL + "/" + alarmsPath,
		applicationID: applicationID,
		http:          client,
		logger:        logger,
		now:           time.Now,
	}
}

// NewAlarm fills an Alarm for this application.
func (c *AlarmClient) NewAlarm(specificProblem int, severity AlarmSeverity, identifyingInfo, additionalInfo string) Alarm {
	return Alarm{
		ManagedObjectID:   ManagedObjectID,
		ApplicationID:     c.applicationID,
		SpecificProblem:   specificProblem,
		PerceivedSeverity: severity,
		IdentifyingInfo:   identifyingInfo,
		AdditionalInfo:    additionalInfo,
	}
}

// Raise raises an alarm.
func (c *AlarmClient) Raise(ctx context.Context, specificProblem int, severity AlarmSeverity, identifyingInfo, additionalInfo string) error {
	return c.Send(ctx, c.NewAlarm(specificProblem, severity, identifyingInfo, additionalInfo), AlarmActionRaise)
}

// Clear clears a previously raised alarm.
func (c *AlarmClient) Clear(ctx context.Context, specificProblem int, severity AlarmSeverity, identifyingInfo, additionalInfo string) error {
	return c.Send(ctx, c.NewAlarm(specificProblem, severity, identifyingInfo, additionalInfo), AlarmActionClear)
}

// ClearAll clears every alarm raised by this application.
func (c *AlarmClient) ClearAll(ctx context.Context) error {
	return c.Send(ctx, c.NewAlarm(0, AlarmSeverityDefault, "", ""), AlarmActionClearAll)
}

// Send posts alarm with action. Only transport and encoding failures are
// returned; an error status from the alarm manager is logged.
func (c *AlarmClient) Send(ctx context.Context, alarm Alarm, action AlarmAction) error {
	msg := AlarmMessage{
		Alarm:       alarm,
		AlarmAction: action,
		AlarmTime:   c.now().Unix(),
	}
	c.logger.Debug("Sending alarm", loggingpkg.LogFields{
		"url":              c.url,
		"action":           action,
		"specific_problem": alarm.SpecificProblem,
	})

	status, body, err := postJSON(ctx, c.http, c.url, msg)
	if err != nil {
		return fmt.Errorf("send alarm %d: %w", alarm.SpecificProblem, err)
	}
	if !success(status) {
		c.logger.Info("Alarm manager returned an error status", loggingpkg.LogFields{
			"status": status,
			"body":   string(body),
		})
	}
	return nil
}

// RaiseAlarm raises an alarm through the alarm manager.
func (s *Service) RaiseAlarm(ctx context.Context, specificProblem int, severity AlarmSeverity, identifyingInfo, additionalInfo string) error {
	return s.alarms.Raise(ctx, specificProblem, severity, identifyingInfo, additionalInfo)
}

// ClearAlarm clears an alarm.
func (s *Service) ClearAlarm(ctx context.Context, specificProblem int, severity AlarmSeverity, identifyingInfo, additionalInfo string) error {
	return s.alarms.Clear(ctx, specificProblem, severity, identifyingInfo, additionalInfo)
}

// ClearAllAlarms clears every alarm of the xApp.
func (s *Service) ClearAllAlarms(ctx context.Context) error {
	return s.alarms.ClearAll(ctx)
}
