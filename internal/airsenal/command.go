package airsenal

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/airsenalops/api/internal/model"
)

// ErrUnknownCommand is returned for a command outside the known set.
var ErrUnknownCommand = errors.New("unknown command")

const defaultWeeksAhead = "3"

// chipParams are the optional optimization flags, in the order the CLI
// documents them.
var chipParams = []struct {
	param string
	flag  string
}{
	{"wildcard_week", "--wildcard_week"},
	{"free_hit_week", "--free_hit_week"},
	{"triple_captain_week", "--triple_captain_week"},
	{"bench_boost_week", "--bench_boost_week"},
}

// BuildCommand maps a job command and its parameters onto the argv of
// the matching AIrsenal CLI entrypoint.
func BuildCommand(command model.JobCommand, parameters map[string]any) ([]string, error) {
	switch command {
	case model.JobCommandSetupDB:
		return []string{"airsenal_setup_initial_db"}, nil
	case model.JobCommandUpdateDB:
		return []string{"airsenal_update_db"}, nil
	case model.JobCommandPredict:
		return []string{"airsenal_run_prediction", "--weeks_ahead", weeksAhead(parameters)}, nil
	case model.JobCommandOptimize:
		args := []string{"airsenal_run_optimization", "--weeks_ahead", weeksAhead(parameters)}
		for _, chip := range chipParams {
			if value, ok := parameters[chip.param]; ok && truthy(value) {
				args = append(args, chip.flag, formatParam(value))
			}
		}
		return args, nil
	case model.JobCommandPipeline:
		return []string{"airsenal_run_pipeline"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

func weeksAhead(parameters map[string]any) string {
	value, ok := parameters["weeks_ahead"]
	if !ok || value == nil {
		return defaultWeeksAhead
	}
	return formatParam(value)
}

// truthy mirrors the submission contract: zero numbers and empty
// strings leave their flag out, anything else switches it on.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return true
	}
}

// formatParam renders a JSON parameter as a CLI argument. Decoded JSON
// numbers are float64; whole values print without a fraction so the CLI
// sees "38", not "38.000000".
func formatParam(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
