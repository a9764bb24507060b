package pipeline

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	// DefaultTrainStart is the first day of the training range
	DefaultTrainStart = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	// DefaultTrainEnd ends the training range and starts the testing range
	DefaultTrainEnd = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
)

// tickerPattern admits exchange tickers such as BRK.B, ^GSPC, EURUSD=X and BTC-USD.
// Symbols name files on disk, so path separators never pass.
var tickerPattern = regexp.MustCompile(`^[A-Za-z0-9.^=-]+$`)

var validate = newValidator()

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	v.RegisterValidation("ticker", func(fl validator.FieldLevel) bool {
		sym := fl.Field().String()
		return tickerPattern.MatchString(sym) && strings.Trim(sym, ".") != ""
	})
	return v
}

// Request describes one run
type Request struct {
	Symbol       string    `json:"symbol" validate:"required,max=32,ticker"`
	WindowLength int       `json:"window_length" validate:"gte=1"`
	Epochs       int       `json:"epochs" validate:"gte=1"`
	BatchSize    int       `json:"batch_size" validate:"gte=1"`
	TrainStart   time.Time `json:"train_start" validate:"required"`
	TrainEnd     time.Time `json:"train_end" validate:"required,gtfield=TrainStart"`
	TestEnd      time.Time `json:"test_end" validate:"required,gtfield=TrainEnd"`
}

// NewRequest builds a request over the default date ranges, testing up to now
func NewRequest(symbol string, windowLength, epochs, batchSize int, now time.Time) Request {
	return Request{
		Symbol:       strings.TrimSpace(symbol),
		WindowLength: windowLength,
		Epochs:       epochs,
		BatchSize:    batchSize,
		TrainStart:   DefaultTrainStart,
		TrainEnd:     DefaultTrainEnd,
		TestEnd:      time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
	}
}

// Validate checks the request fields
func (r Request) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "ticker":
		return fmt.Sprintf("%s may only contain letters, digits and . ^ = -", field)
	case "gtfield":
		return fmt.Sprintf("%s must be after %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
