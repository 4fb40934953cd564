package replica

import (
	"errors"
	"reflect"
	"strings"

	"github.com/abhishek622/moviereplica/movie/pkg/model"
	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Store) validate(m *model.Movie) error {
	if m == nil {
		return &ValidationError{Err: errors.New("nil movie")}
	}
	err := s.validator.Struct(m)
	if err == nil {
		return nil
	}
	verr := &ValidationError{ID: m.ID, Err: err}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		verr.Fields = make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			verr.Fields[strings.TrimPrefix(fe.Namespace(), "Movie.")] = fe.Tag()
		}
	}
	return verr
}
