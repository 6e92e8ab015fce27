package functions

import (
	"fmt"

	"github.com/tsarna/go2cty2go"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// GetLogFunctions returns log_debug, log_info, log_warn, log_error and
// log_msg, all writing to logger. Each returns true.
//
//	log_info("simulator ready", { equipment = "DEMO_001" })
//	log_msg("warn", "slow start", 12.5)
//
// A single object or map argument supplies named fields; other extra
// arguments are logged as $1, $2, ...
func GetLogFunctions(logger *zap.Logger) map[string]function.Function {
	if logger == nil {
		logger = zap.NewNop()
	}

	return map[string]function.Function{
		"log_debug": makeLogFunc(logger, zapcore.DebugLevel),
		"log_info":  makeLogFunc(logger, zapcore.InfoLevel),
		"log_warn":  makeLogFunc(logger, zapcore.WarnLevel),
		"log_error": makeLogFunc(logger, zapcore.ErrorLevel),
		"log_msg":   makeLogMsgFunc(logger),
	}
}

var fieldsParam = &function.Parameter{
	Name:             "fields",
	Type:             cty.DynamicPseudoType,
	AllowNull:        true,
	AllowDynamicType: true,
}

func makeLogFunc(logger *zap.Logger, level zapcore.Level) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "message", Type: cty.String},
		},
		VarParam: fieldsParam,
		Type:     function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			logger.Log(level, args[0].AsString(), logFields(args[1:])...)
			return cty.True, nil
		},
	})
}

func makeLogMsgFunc(logger *zap.Logger) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "level", Type: cty.String},
			{Name: "message", Type: cty.String},
		},
		VarParam: fieldsParam,
		Type:     function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			level, err := zapcore.ParseLevel(args[0].AsString())
			if err != nil {
				level = zapcore.InfoLevel
			}
			logger.Log(level, args[1].AsString(), logFields(args[2:])...)
			return cty.True, nil
		},
	})
}

func logFields(args []cty.Value) []zap.Field {
	if len(args) == 1 && !args[0].IsNull() && args[0].IsKnown() &&
		(args[0].Type().IsObjectType() || args[0].Type().IsMapType()) {
		fields := make([]zap.Field, 0, args[0].LengthInt())
		for it := args[0].ElementIterator(); it.Next(); {
			key, val := it.Element()
			fields = append(fields, logField(key.AsString(), val))
		}
		return fields
	}

	fields := make([]zap.Field, 0, len(args))
	for i, arg := range args {
		fields = append(fields, logField(fmt.Sprintf("$%d", i+1), arg))
	}
	return fields
}

func logField(key string, val cty.Value) zap.Field {
	if val.IsNull() {
		return zap.String(key, "<null>")
	}
	if !val.IsKnown() {
		return zap.String(key, "<unknown>")
	}

	v, err := go2cty2go.CtyToAny(val)
	if err != nil {
		return zap.String(key, val.GoString())
	}
	return zap.Any(key, v)
}
