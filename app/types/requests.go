package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var ErrInvalidTerms = errors.New("invalid terms")

// UnmarshalJSON decodes the common fields and then the terms object selected
// by "type". Unknown terms fields are rejected.
func (r *CreatePaymentLinkRequest) UnmarshalJSON(data []byte) error {
	var envelope createPaymentLinkEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}

	*r = CreatePaymentLinkRequest{
		Scope:              strings.ToLower(strings.TrimSpace(envelope.Scope)),
		Type:               strings.ToLower(strings.TrimSpace(envelope.Type)),
		ProductID:          envelope.ProductID,
		ExtensionID:        envelope.ExtensionID,
		MembershipID:       envelope.MembershipID,
		PaymentSettingCode: strings.TrimSpace(envelope.PaymentSettingCode),
		PaymentMethodType:  strings.ToLower(strings.TrimSpace(envelope.PaymentMethodType)),
		CustomerEmail:      strings.TrimSpace(envelope.CustomerEmail),
		CustomerName:       strings.TrimSpace(envelope.CustomerName),
		CreatedByID:        envelope.CreatedByID,
	}

	terms, err := decodeTerms(r.Type, envelope.Terms)
	if err != nil {
		return err
	}
	r.Terms = terms
	return nil
}

// MarshalJSON writes the terms back under "terms".
func (r CreatePaymentLinkRequest) MarshalJSON() ([]byte, error) {
	envelope := createPaymentLinkEnvelope{
		Scope:              r.Scope,
		Type:               r.Type,
		ProductID:          r.ProductID,
		ExtensionID:        r.ExtensionID,
		MembershipID:       r.MembershipID,
		PaymentSettingCode: r.PaymentSettingCode,
		PaymentMethodType:  r.PaymentMethodType,
		CustomerEmail:      r.CustomerEmail,
		CustomerName:       r.CustomerName,
		CreatedByID:        r.CreatedByID,
	}
	if r.Terms != nil {
		raw, err := json.Marshal(r.Terms)
		if err != nil {
			return nil, err
		}
		envelope.Terms = raw
	}
	return json.Marshal(envelope)
}

func decodeTerms(linkType string, raw json.RawMessage) (PaymentLinkTerms, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}

	var terms PaymentLinkTerms
	switch linkType {
	case LinkTypeIntegral:
		terms = &IntegralTerms{}
	case LinkTypeDeposit:
		terms = &DepositTerms{}
	case LinkTypeInstallments:
		terms = &InstallmentsTerms{}
	case LinkTypeInstallmentsDeposit:
		terms = &InstallmentsDepositTerms{}
	default:
		// Left for Validate to report through the type field.
		return nil, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(terms); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTerms, err)
	}
	return terms, nil
}

func NewCreatePaymentLinkRequestFromContext(ctx echo.Context) (*CreatePaymentLinkRequest, error) {
	var body CreatePaymentLinkRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	return &body, nil
}

func (r *CreatePaymentLinkRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationMessage(err)
	}
	if r.Terms == nil {
		return errors.New("terms are required")
	}
	if r.Terms.LinkType() != r.Type {
		return fmt.Errorf("terms do not match type %s", r.Type)
	}
	if err := validate.Struct(r.Terms); err != nil {
		return validationMessage(err)
	}
	if r.Scope == ScopeProduct && (r.ExtensionID != 0 || r.MembershipID != 0) {
		return errors.New("extension_id and membership_id are only allowed for extension scope")
	}
	return nil
}

func NewGetCheckoutRequestFromContext(ctx echo.Context) (*GetCheckoutRequest, error) {
	return &GetCheckoutRequest{PublicID: strings.TrimSpace(ctx.Param("publicId"))}, nil
}

func (r *GetCheckoutRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationMessage(err)
	}
	return nil
}

func NewInitiateCheckoutRequestFromContext(ctx echo.Context) (*InitiateCheckoutRequest, error) {
	var body InitiateCheckoutRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	if publicID := strings.TrimSpace(ctx.Param("publicId")); publicID != "" {
		body.PublicID = publicID
	}
	body.PublicID = strings.TrimSpace(body.PublicID)
	body.Billing.normalize()
	return &body, nil
}

func (r *InitiateCheckoutRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationMessage(err)
	}
	return nil
}

func (b *BillingData) normalize() {
	b.Name = strings.TrimSpace(b.Name)
	b.Email = strings.TrimSpace(b.Email)
	b.Phone = strings.TrimSpace(b.Phone)
	b.CompanyName = strings.TrimSpace(b.CompanyName)
	b.VatNumber = strings.TrimSpace(b.VatNumber)
	b.Address = strings.TrimSpace(b.Address)
	b.City = strings.TrimSpace(b.City)
	b.Country = strings.ToUpper(strings.TrimSpace(b.Country))
}

func NewConfirmBankTransferRequestFromContext(ctx echo.Context) (*ConfirmBankTransferRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &ConfirmBankTransferRequest{OrderID: id}, nil
}

func (r *ConfirmBankTransferRequest) Validate() error {
	if r.OrderID == 0 {
		return errors.New("invalid order id")
	}
	return nil
}

func NewSubscriptionIDRequestFromContext(ctx echo.Context) (*SubscriptionIDRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &SubscriptionIDRequest{ID: id}, nil
}

func (r *SubscriptionIDRequest) Validate() error {
	if r.ID == 0 {
		return errors.New("invalid subscription id")
	}
	return nil
}

func NewCancelSubscriptionRequestFromContext(ctx echo.Context) (*CancelSubscriptionRequest, error) {
	var body CancelSubscriptionRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	if raw := ctx.Param("id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		body.ID = id
	}
	body.CancelType = strings.ToLower(strings.TrimSpace(body.CancelType))
	return &body, nil
}

func (r *CancelSubscriptionRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationMessage(err)
	}
	return nil
}

func NewValidateUpdateTokenRequestFromContext(ctx echo.Context) (*ValidateUpdateTokenRequest, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(ctx.QueryParam("subscription_id")), 10, 64)
	if err != nil {
		return nil, errors.New("invalid subscription_id")
	}
	return &ValidateUpdateTokenRequest{
		SubscriptionID: id,
		Token:          strings.ToLower(strings.TrimSpace(ctx.QueryParam("token"))),
		Type:           strings.ToLower(strings.TrimSpace(ctx.QueryParam("type"))),
	}, nil
}

func (r *ValidateUpdateTokenRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationMessage(err)
	}
	return nil
}

func NewUpdatePaymentMethodRequestFromContext(ctx echo.Context) (*UpdatePaymentMethodRequest, error) {
	var body UpdatePaymentMethodRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.SetupIntentID = strings.TrimSpace(body.SetupIntentID)
	body.Token = strings.ToLower(strings.TrimSpace(body.Token))
	body.Type = strings.ToLower(strings.TrimSpace(body.Type))
	return &body, nil
}

func (r *UpdatePaymentMethodRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationMessage(err)
	}
	return nil
}

// validationMessage turns validator output into a client-safe message naming
// the first offending field.
func validationMessage(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Errorf("%s is required", field)
	case "oneof":
		return fmt.Errorf("%s must be one of [%s]", field, fe.Param())
	case "email":
		return fmt.Errorf("%s must be a valid email", field)
	case "uuid":
		return fmt.Errorf("%s must be a valid uuid", field)
	case "numeric":
		return fmt.Errorf("%s must be numeric", field)
	case "len":
		return fmt.Errorf("%s must have length %s", field, fe.Param())
	case "max":
		return fmt.Errorf("%s must be at most %s", field, fe.Param())
	case "min":
		return fmt.Errorf("%s must be at least %s", field, fe.Param())
	default:
		return fmt.Errorf("%s is invalid", field)
	}
}
