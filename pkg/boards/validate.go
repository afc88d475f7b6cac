package boards

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	boardsassets "github.com/3leaps/goflash/internal/assets/boards"
	"github.com/fulmenhq/gofulmen/schema"
)

// ErrInvalidDefinition indicates a board definition failed schema validation.
var ErrInvalidDefinition = errors.New("invalid board definition")

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// DefinitionError lists the schema violations of one board definition.
type DefinitionError struct {
	Board  string
	Issues []string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("board %q: invalid definition: %s", e.Board, strings.Join(e.Issues, "; "))
}

func (e *DefinitionError) Unwrap() error {
	return ErrInvalidDefinition
}

// ValidateDefinition checks a raw PlatformIO board definition against the
// embedded board schema.
func ValidateDefinition(token string, data []byte) error {
	v, err := getValidator()
	if err != nil {
		return err
	}
	diags, err := v.ValidateJSON(data)
	if err != nil {
		return fmt.Errorf("board %q: schema validation error: %w", token, err)
	}

	var issues []string
	for _, d := range diags {
		if d.Severity != schema.SeverityError {
			continue
		}
		if d.Pointer != "" {
			issues = append(issues, d.Pointer+": "+d.Message)
		} else {
			issues = append(issues, d.Message)
		}
	}
	if len(issues) == 0 {
		return nil
	}
	return &DefinitionError{Board: token, Issues: issues}
}

func getValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		validator, validatorErr = schema.NewValidator(boardsassets.DefinitionSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("compile board definition schema: %w", validatorErr)
		}
	})
	return validator, validatorErr
}
