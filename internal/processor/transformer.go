package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dop251/goja"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"field-change-log/internal/config"
	"field-change-log/internal/models"
	"field-change-log/internal/normalizer"
)

// ErrEventRejected is returned when a transform rejects a record
// by returning null or undefined
var ErrEventRejected = errors.New("record rejected by transformer")

// Transformer rewrites change log records before they are persisted
type Transformer struct {
	config   *config.ProcessorConfig
	logger   *logrus.Logger
	rules    []*RuleMatcher
	jsScript string     // Cached script content
	natsConn *nats.Conn // NATS connection for JavaScript bindings
}

// RuleMatcher matches and applies transformation rules
type RuleMatcher struct {
	entity    string
	field     string
	include   map[string]bool
	exclude   map[string]bool
	rename    map[string]string
	addFields map[string]string
}

// NewTransformer creates a new transformer with the given configuration
func NewTransformer(cfg *config.ProcessorConfig, logger *logrus.Logger, natsConn *nats.Conn) (*Transformer, error) {
	transformer := &Transformer{
		config:   cfg,
		logger:   logger,
		rules:    []*RuleMatcher{},
		natsConn: natsConn,
	}
	if cfg == nil || !cfg.Enabled {
		return transformer, nil
	}

	if cfg.Script != "" {
		scriptContent, err := os.ReadFile(cfg.Script)
		if err != nil {
			return nil, fmt.Errorf("failed to read JavaScript script file: %w", err)
		}
		if err := transformer.SetScript(string(scriptContent)); err != nil {
			return nil, err
		}
		logger.Infof("Loaded JavaScript transformation script: %s", cfg.Script)
	}

	for _, rule := range cfg.Rules {
		matcher := &RuleMatcher{
			entity:    rule.Entity,
			field:     rule.Field,
			include:   make(map[string]bool),
			exclude:   make(map[string]bool),
			rename:    make(map[string]string),
			addFields: rule.AddFields,
		}
		for _, f := range rule.Include {
			matcher.include[strings.ToLower(f)] = true
		}
		for _, f := range rule.Exclude {
			matcher.exclude[strings.ToLower(f)] = true
		}
		for from, to := range rule.Rename {
			matcher.rename[strings.ToLower(from)] = to
		}
		transformer.rules = append(transformer.rules, matcher)
	}

	return transformer, nil
}

// SetScript validates and installs a JavaScript transform
func (t *Transformer) SetScript(script string) error {
	if err := validateJavaScriptScript(script); err != nil {
		return fmt.Errorf("invalid JavaScript script: %w", err)
	}
	t.jsScript = script
	return nil
}

// validateJavaScriptScript checks that the script yields a transform function
func validateJavaScriptScript(scriptContent string) error {
	_, err := resolveTransform(goja.New(), scriptContent)
	return err
}

// resolveTransform finds the transform function: either the value the
// script evaluates to, or a global named 'transform'
func resolveTransform(vm *goja.Runtime, script string) (goja.Callable, error) {
	result, err := vm.RunString(script)
	if err != nil {
		return nil, fmt.Errorf("failed to execute JavaScript script: %w", err)
	}
	if result != nil && !goja.IsUndefined(result) && !goja.IsNull(result) {
		if fn, ok := goja.AssertFunction(result); ok {
			return fn, nil
		}
	}

	transformVar := vm.Get("transform")
	if transformVar != nil && !goja.IsUndefined(transformVar) && !goja.IsNull(transformVar) {
		if fn, ok := goja.AssertFunction(transformVar); ok {
			return fn, nil
		}
	}

	return nil, fmt.Errorf("script must export a function (either anonymous function or named 'transform' function)")
}

// Enabled reports whether Transform can change anything
func (t *Transformer) Enabled() bool {
	return t != nil && t.config != nil && t.config.Enabled && (t.jsScript != "" || len(t.rules) > 0)
}

// Transform applies the script or the first matching rule to a record
func (t *Transformer) Transform(event models.FieldChangeEvent, record models.LogRecord) (models.LogRecord, error) {
	if !t.Enabled() {
		return record, nil
	}

	// Script takes precedence over YAML rules
	if t.jsScript != "" {
		return t.transformWithJavaScript(event, record)
	}

	return t.transformWithRules(event, record), nil
}

func (t *Transformer) transformWithJavaScript(event models.FieldChangeEvent, record models.LogRecord) (models.LogRecord, error) {
	t.logger.Debugf("Transforming record with JavaScript: %s.%s", event.SourceEntity, event.FieldName)

	// goja.Runtime is not thread-safe, every run gets its own
	vm := goja.New()

	if err := t.setupConsoleBindings(vm); err != nil {
		return nil, fmt.Errorf("failed to setup console bindings: %w", err)
	}
	if t.natsConn != nil {
		if err := t.setupNATSBindings(vm); err != nil {
			return nil, fmt.Errorf("failed to setup NATS bindings: %w", err)
		}
	}

	callable, err := resolveTransform(vm, t.jsScript)
	if err != nil {
		return nil, err
	}

	recordObj := vm.NewObject()
	for k, v := range record {
		if err := recordObj.Set(k, v); err != nil {
			return nil, fmt.Errorf("failed to set record field %s: %w", k, err)
		}
	}
	change := normalizer.Normalize(event.FieldName, event.RawValue)
	changeObj := vm.ToValue(map[string]any{
		"fieldName":      event.FieldName,
		"sourceEntity":   event.SourceEntity,
		"sourceRecordId": event.SourceRecordID,
		"displayValue":   change.DisplayValue,
		"rawValue":       change.RawValue,
	})

	result, err := callable(goja.Undefined(), recordObj, changeObj)
	if err != nil {
		t.logger.Errorf("JavaScript transform function error: %v", err)
		return nil, fmt.Errorf("JavaScript transform function error: %w", err)
	}

	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		t.logger.Infof("Record rejected by JavaScript transformer: %s.%s", event.SourceEntity, event.FieldName)
		return nil, ErrEventRejected
	}

	exported, ok := result.Export().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("JavaScript transform must return an object, got %T", result.Export())
	}

	transformed := make(models.LogRecord, len(exported))
	for k, v := range exported {
		if v == nil {
			continue
		}
		transformed[k] = normalizer.Stringify(v)
	}

	t.logger.Debugf("Successfully transformed record: %s.%s", event.SourceEntity, event.FieldName)
	return transformed, nil
}

func (t *Transformer) transformWithRules(event models.FieldChangeEvent, record models.LogRecord) models.LogRecord {
	var matchedRule *RuleMatcher
	for _, rule := range t.rules {
		if rule.matches(event.SourceEntity, event.FieldName) {
			matchedRule = rule
			break
		}
	}
	if matchedRule == nil {
		return record
	}
	return matchedRule.apply(record)
}

// apply applies the rule to a single record
func (r *RuleMatcher) apply(record models.LogRecord) models.LogRecord {
	transformed := make(models.LogRecord, len(record)+len(r.addFields))

	// Static fields first, record fields win on conflict
	for key, value := range r.addFields {
		transformed[key] = value
	}

	for key, value := range record {
		keyLower := strings.ToLower(key)

		if len(r.exclude) > 0 && r.exclude[keyLower] {
			continue
		}
		if len(r.include) > 0 && !r.include[keyLower] {
			continue
		}

		outputKey := key
		if newName, ok := r.rename[keyLower]; ok {
			outputKey = newName
		}
		transformed[outputKey] = value
	}

	return transformed
}

// matches checks if a rule matches the given entity and field (empty = all)
func (r *RuleMatcher) matches(entity, field string) bool {
	if r.entity != "" && !strings.EqualFold(r.entity, entity) {
		return false
	}
	if r.field != "" && !strings.EqualFold(r.field, field) {
		return false
	}
	return true
}

// setupConsoleBindings routes console.* to the logger
func (t *Transformer) setupConsoleBindings(vm *goja.Runtime) error {
	consoleObj := vm.NewObject()

	formatArgs := func(call goja.FunctionCall) string {
		args := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = normalizer.Stringify(arg.Export())
		}
		return strings.Join(args, " ")
	}

	bindings := map[string]func(args ...interface{}){
		"log":   t.logger.Info,
		"info":  t.logger.Info,
		"warn":  t.logger.Warn,
		"error": t.logger.Error,
		"debug": t.logger.Debug,
	}
	for name, logFn := range bindings {
		logFn := logFn
		fn := func(call goja.FunctionCall) goja.Value {
			logFn(formatArgs(call))
			return goja.Undefined()
		}
		if err := consoleObj.Set(name, fn); err != nil {
			return fmt.Errorf("failed to set console.%s: %w", name, err)
		}
	}

	if err := vm.Set("console", consoleObj); err != nil {
		return fmt.Errorf("failed to set console object: %w", err)
	}
	return nil
}

// setupNATSBindings exposes nats.publish and the JetStream KV store
func (t *Transformer) setupNATSBindings(vm *goja.Runtime) error {
	natsObj := vm.NewObject()

	toBytes := func(fn string, arg goja.Value) []byte {
		if goja.IsUndefined(arg) || goja.IsNull(arg) {
			panic(vm.NewTypeError("%s: value is required", fn))
		}
		switch v := arg.Export().(type) {
		case string:
			return []byte(v)
		case []byte:
			return v
		default:
			data, err := json.Marshal(v)
			if err != nil {
				panic(vm.NewTypeError("%s: failed to marshal value: %v", fn, err))
			}
			return data
		}
	}

	publishFn := func(call goja.FunctionCall) goja.Value {
		subject := call.Argument(0).String()
		if subject == "" {
			panic(vm.NewTypeError("nats.publish: subject is required"))
		}
		if err := t.natsConn.Publish(subject, toBytes("nats.publish", call.Argument(1))); err != nil {
			t.logger.Errorf("NATS publish error: %v", err)
			panic(vm.NewGoError(err))
		}
		t.logger.Debugf("Published to NATS subject: %s", subject)
		return goja.Undefined()
	}
	if err := natsObj.Set("publish", publishFn); err != nil {
		return fmt.Errorf("failed to set publish function: %w", err)
	}

	getKVStore := func(bucket string) nats.KeyValue {
		js, err := t.natsConn.JetStream()
		if err != nil {
			panic(vm.NewGoError(fmt.Errorf("failed to get JetStream context: %w", err)))
		}
		kv, err := js.KeyValue(bucket)
		if err != nil {
			panic(vm.NewGoError(fmt.Errorf("failed to get KV store '%s': %w", bucket, err)))
		}
		return kv
	}

	bucketAndKey := func(fn string, call goja.FunctionCall) (string, string) {
		bucket := call.Argument(0).String()
		key := call.Argument(1).String()
		if bucket == "" || key == "" {
			panic(vm.NewTypeError("%s: bucket and key are required", fn))
		}
		return bucket, key
	}

	kvObj := vm.NewObject()
	kvFuncs := map[string]func(goja.FunctionCall) goja.Value{
		"get": func(call goja.FunctionCall) goja.Value {
			bucket, key := bucketAndKey("nats.kv.get", call)
			entry, err := getKVStore(bucket).Get(key)
			if err != nil {
				if errors.Is(err, nats.ErrKeyNotFound) {
					return goja.Null()
				}
				t.logger.Errorf("KV get error: %v", err)
				panic(vm.NewGoError(err))
			}
			return vm.ToValue(string(entry.Value()))
		},
		"put": func(call goja.FunctionCall) goja.Value {
			bucket, key := bucketAndKey("nats.kv.put", call)
			value := toBytes("nats.kv.put", call.Argument(2))
			if _, err := getKVStore(bucket).Put(key, value); err != nil {
				t.logger.Errorf("KV put error: %v", err)
				panic(vm.NewGoError(err))
			}
			t.logger.Debugf("Put to KV store '%s' key '%s'", bucket, key)
			return goja.Undefined()
		},
		"delete": func(call goja.FunctionCall) goja.Value {
			bucket, key := bucketAndKey("nats.kv.delete", call)
			if err := getKVStore(bucket).Delete(key); err != nil {
				t.logger.Errorf("KV delete error: %v", err)
				panic(vm.NewGoError(err))
			}
			t.logger.Debugf("Deleted from KV store '%s' key '%s'", bucket, key)
			return goja.Undefined()
		},
	}
	for name, fn := range kvFuncs {
		if err := kvObj.Set(name, fn); err != nil {
			return fmt.Errorf("failed to set KV %s function: %w", name, err)
		}
	}

	if err := natsObj.Set("kv", kvObj); err != nil {
		return fmt.Errorf("failed to set KV object: %w", err)
	}
	if err := vm.Set("nats", natsObj); err != nil {
		return fmt.Errorf("failed to set nats object: %w", err)
	}
	return nil
}

// ValidateRules validates processor configuration rules
func ValidateRules(cfg *config.ProcessorConfig) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	if cfg.Script != "" {
		if _, err := os.Stat(cfg.Script); os.IsNotExist(err) {
			return fmt.Errorf("JavaScript script file not found: %s", cfg.Script)
		}
	}

	if cfg.Script != "" && len(cfg.Rules) > 0 {
		return fmt.Errorf("cannot specify both 'script' and 'rules' - script takes precedence")
	}

	for i, rule := range cfg.Rules {
		if len(rule.Include) > 0 && len(rule.Exclude) > 0 {
			return fmt.Errorf("processor rule %d: cannot specify both 'include' and 'exclude' fields", i)
		}

		// With an include list, only included fields can be renamed
		if len(rule.Rename) > 0 && len(rule.Include) > 0 {
			for oldName := range rule.Rename {
				found := false
				for _, inc := range rule.Include {
					if strings.EqualFold(inc, oldName) {
						found = true
						break
					}
				}
				if !found {
					return fmt.Errorf("processor rule %d: rename key '%s' not found in include list", i, oldName)
				}
			}
		}
	}

	return nil
}
