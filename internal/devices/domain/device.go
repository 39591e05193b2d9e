package devices

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Type identifies a device model.
type Type string

const (
	TypePlus1PM Type = "plus1pm"
	TypePlus1   Type = "plus1"
	TypeDimmer2 Type = "dimmer2"
	TypeMotion  Type = "motion"
	TypeMotion2 Type = "motion2"
)

// Device is a registered smart-home device.
type Device struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id" validate:"required"`
	Name         string    `json:"name" validate:"max=128"`
	Type         Type      `json:"type" validate:"required"`
	Address      string    `json:"address" validate:"required,hostname_port|hostname|ip"`
	RegisteredAt time.Time `json:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

var validate = validator.New()

// Validate checks device invariants.
func (d Device) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDevice, err)
	}
	return nil
}

// Normalize trims user supplied fields.
func (d *Device) Normalize() {
	d.ID = strings.TrimSpace(d.ID)
	d.UserID = strings.TrimSpace(d.UserID)
	d.Name = strings.TrimSpace(d.Name)
	d.Type = Type(strings.ToLower(strings.TrimSpace(string(d.Type))))
	d.Address = strings.TrimSpace(d.Address)
}

// Repository manages device persistence.
type Repository interface {
	Create(ctx context.Context, device *Device) error
	Get(ctx context.Context, id string) (*Device, error)
	FindByAddress(ctx context.Context, address string) (*Device, error)
	List(ctx context.Context) ([]Device, error)
	Update(ctx context.Context, device *Device) error
	Delete(ctx context.Context, id string) error
}
