// Package oplog writes claim operations to a zap logger.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/unitclaims/pkg/claims"
	"go.uber.org/zap"
)

const operationStatusError = "error"

// ZapLogger implements claims.OperationLogger.
type ZapLogger struct {
	logger *zap.Logger
}

// New returns a ZapLogger. A nil logger discards every entry.
func New(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("claims")}
}

// LogOperation emits one structured line per operation.
func (zapLogger *ZapLogger) LogOperation(_ context.Context, entry claims.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	fields = appendIfSet(fields, "kind", string(entry.Kind))
	fields = appendIfSet(fields, "claim_code", entry.ClaimCode.String())
	fields = appendIfSet(fields, "unit_code", entry.UnitCode.String())
	fields = appendIfSet(fields, "holder_id", entry.HolderID.String())
	fields = appendIfSet(fields, "action", string(entry.Action))
	fields = appendIfSet(fields, "claim_status", entry.ClaimStatus)
	fields = appendIfSet(fields, "unit_status", string(entry.UnitStatus))
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	if entry.Status == operationStatusError {
		zapLogger.logger.Warn("claim operation failed", fields...)
		return
	}
	zapLogger.logger.Info("claim operation", fields...)
}

func appendIfSet(fields []zap.Field, key string, value string) []zap.Field {
	if value == "" {
		return fields
	}
	return append(fields, zap.String(key, value))
}
