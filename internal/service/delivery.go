package service

import (
	"context"

	"travel-auth/internal/models"
	"travel-auth/internal/util"
)

// Deliverer hands a code to the channel that reaches the phone owner.
type Deliverer interface {
	Deliver(ctx context.Context, phone, code string, purpose models.CodePurpose) error
}

// LogDeliverer stands in for an SMS gateway. The code itself is only logged
// when revealCode is set, which the factory allows outside production.
type LogDeliverer struct {
	RevealCode bool
}

func (d LogDeliverer) Deliver(_ context.Context, phone, code string, purpose models.CodePurpose) error {
	if d.RevealCode {
		util.Info("OTP issued", util.Phone(phone), util.String("purpose", string(purpose)), util.String("code", code))
		return nil
	}
	util.Info("OTP issued", util.Phone(phone), util.String("purpose", string(purpose)))
	return nil
}
