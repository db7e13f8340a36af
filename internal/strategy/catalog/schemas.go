package catalog

var builtinSchemas = map[string]string{
	"sma_crossover": `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "short_period":   {"type": "integer", "minimum": 1},
    "long_period":    {"type": "integer", "minimum": 2},
    "rsi_period":     {"type": "integer", "minimum": 2},
    "rsi_overbought": {"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 100},
    "rsi_oversold":   {"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 100},
    "min_strength":   {"type": "number", "minimum": 0, "maximum": 1}
  }
}`,
	"rsi_reversion": `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "period":       {"type": "integer", "minimum": 2},
    "oversold":     {"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 100},
    "overbought":   {"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 100},
    "lookback":     {"type": "integer", "minimum": 1},
    "trend_period": {"type": "integer", "minimum": 1},
    "trend_filter": {"type": "boolean"},
    "min_strength": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`,
}
