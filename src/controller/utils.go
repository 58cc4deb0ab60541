package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"portfoliodoctor/src/model"

	logger "github.com/sirupsen/logrus"
)

// ExceptionSink persists captured exceptions.
type ExceptionSink interface {
	Create(ctx context.Context, exc *model.Exception) error
}

// Capture records a system exception, logs it locally, and optionally
// persists it in the database. The user_id, exchange and kind keys of
// contextData are also stored in their own columns.
func Capture(
	ctx context.Context,
	repo ExceptionSink,
	service string,
	module string,
	method string,
	level string,
	err error,
	contextData map[string]interface{},
) {

	if err == nil {
		return
	}

	var ctxJSON string
	if contextData != nil {
		if b, e := json.Marshal(contextData); e == nil {
			ctxJSON = string(b)
		}
	}

	exc := &model.Exception{
		Service:    service,
		Module:     module,
		Method:     method,
		UserID:     stringField(contextData, "user_id"),
		ExchangeID: stringField(contextData, "exchange"),
		Kind:       stringField(contextData, "kind"),
		Message:    err.Error(),
		Stack:      string(debug.Stack()),
		Level:      level,
		Context:    ctxJSON,
		CreatedAt:  time.Now(),
	}

	// Local log
	logger.WithFields(map[string]interface{}{
		"service":  service,
		"module":   module,
		"method":   method,
		"level":    level,
		"exchange": exc.ExchangeID,
	}).WithError(err).Error("System exception captured")

	// Persist in database
	if repo != nil {
		if e := repo.Create(ctx, exc); e != nil {
			logger.WithError(e).Error("Failed to persist exception")
		}
	}
}

func stringField(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
