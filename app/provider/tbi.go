package provider

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type TBIConfig struct {
	APIURL        string
	StoreID       string
	Username      string
	Password      string
	PrivateKeyPEM string
	HTTPTimeout   time.Duration
}

type TBIProvider struct {
	cfg        TBIConfig
	privateKey *rsa.PrivateKey
	client     *http.Client
}

func NewTBIProvider(cfg TBIConfig) (*TBIProvider, error) {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	p := &TBIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
	if strings.TrimSpace(cfg.PrivateKeyPEM) != "" {
		key, err := parseRSAPrivateKey(cfg.PrivateKeyPEM)
		if err != nil {
			return nil, err
		}
		p.privateKey = key
	}
	return p, nil
}

// DecryptStatus decrypts the base64 order_data field. The payload is encrypted
// with PKCS#1 v1.5 in key-sized blocks.
func (p *TBIProvider) DecryptStatus(orderData string) (*TBIStatus, error) {
	if p.privateKey == nil {
		return nil, fmt.Errorf("%w: tbi private key is empty", ErrNotConfigured)
	}

	cipherText, err := base64.StdEncoding.DecodeString(strings.TrimSpace(orderData))
	if err != nil {
		return nil, fmt.Errorf("%w: order_data is not base64", ErrInvalidPayload)
	}

	blockSize := p.privateKey.Size()
	if len(cipherText) == 0 || len(cipherText)%blockSize != 0 {
		return nil, fmt.Errorf("%w: order_data has invalid length", ErrInvalidPayload)
	}

	var plain bytes.Buffer
	for offset := 0; offset < len(cipherText); offset += blockSize {
		chunk, err := rsa.DecryptPKCS1v15(nil, p.privateKey, cipherText[offset:offset+blockSize])
		if err != nil {
			return nil, fmt.Errorf("%w: decrypt order_data", ErrInvalidPayload)
		}
		plain.Write(chunk)
	}

	return parseTBIStatus(plain.Bytes())
}

// CreateLoanApplication opens a TBI loan application and returns the URL the
// customer is redirected to.
func (p *TBIProvider) CreateLoanApplication(ctx context.Context, input *LoanApplicationInput) (*LoanApplicationOutput, error) {
	if strings.TrimSpace(p.cfg.APIURL) == "" || strings.TrimSpace(p.cfg.StoreID) == "" {
		return nil, fmt.Errorf("%w: tbi api url or store id is empty", ErrNotConfigured)
	}

	payload := map[string]interface{}{
		"store_id":       p.cfg.StoreID,
		"order_id":       input.OrderReference,
		"order_total":    fmt.Sprintf("%d.%02d", input.AmountCents/100, input.AmountCents%100),
		"currency":       strings.ToUpper(input.Currency),
		"description":    input.Description,
		"customer_name":  input.CustomerName,
		"customer_email": input.CustomerEmail,
		"customer_phone": input.CustomerPhone,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(p.cfg.APIURL, "/") + "/loan-applications"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.Username != "" {
		req.SetBasicAuth(p.cfg.Username, p.cfg.Password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("tbi loan application failed: status=%d body=%s", resp.StatusCode, string(raw))
	}

	var out struct {
		RedirectURL string `json:"redirect_url"`
		URL         string `json:"url"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	redirect := strings.TrimSpace(out.RedirectURL)
	if redirect == "" {
		redirect = strings.TrimSpace(out.URL)
	}
	if redirect == "" {
		return nil, errors.New("tbi loan application returned no redirect url")
	}

	return &LoanApplicationOutput{RedirectURL: redirect}, nil
}

func parseTBIStatus(raw []byte) (*TBIStatus, error) {
	var payload struct {
		OrderID  interface{} `json:"order_id"`
		StatusID interface{} `json:"status_id"`
		Motiv    string      `json:"motiv"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: order_data is not json", ErrInvalidPayload)
	}

	orderID := parseStringish(payload.OrderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", ErrInvalidPayload)
	}

	statusRaw := parseStringish(payload.StatusID)
	statusID, err := strconv.Atoi(statusRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: status_id %q is not numeric", ErrInvalidPayload, statusRaw)
	}

	return &TBIStatus{
		OrderID:  orderID,
		StatusID: statusID,
		Motive:   strings.TrimSpace(payload.Motiv),
	}, nil
}

func parseStringish(v interface{}) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case float64:
		return strconv.FormatInt(int64(value), 10)
	case json.Number:
		return value.String()
	default:
		return ""
	}
}

func parseRSAPrivateKey(raw string) (*rsa.PrivateKey, error) {
	// Keys stored in env files often carry literal \n sequences.
	raw = strings.ReplaceAll(strings.TrimSpace(raw), `\n`, "\n")
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("tbi private key is not valid PEM")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse tbi private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("tbi private key is not RSA")
	}
	return key, nil
}
