package admin

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var (
	ErrUnknownKey   = errors.New("setting is not editable")
	ErrInvalidValue = errors.New("invalid setting value")
)

type kind int

const (
	kindString kind = iota
	kindDuration
	kindInt
	kindBool
	kindSecret
)

// editable lists the settings the admin console may change. Values are
// written back to the env file and take effect on the next restart.
var editable = map[string]kind{
	"OTP_TTL":                  kindDuration,
	"OTP_RESEND_COOLDOWN":      kindDuration,
	"OTP_SEND_RATE_PER_MINUTE": kindInt,
	"OTP_TEST_CODE":            kindString,
	"WHEEL_CONFIG_PATH":        kindString,
	"WHEEL_CACHE_TTL":          kindDuration,
	"SPIN_TIMEZONE":            kindString,
	"SESSION_TTL":              kindDuration,
	"SWEEP_INTERVAL":           kindDuration,
	"DEMO_MODE":                kindBool,
	"CORS_ORIGINS":             kindString,
	"RECEIPT_OCR_URL":          kindString,
	"RECEIPT_OCR_TIMEOUT":      kindDuration,
	"RECEIPT_OCR_TOKEN":        kindSecret,
	"LOG_LEVEL":                kindString,
	"ADMIN_ALLOWED_IPS":        kindString,
	"ADMIN_PASSWORD":           kindSecret,
	"ADMIN_TOTP_SECRET":        kindSecret,
}

const masked = "********"

type EnvService struct {
	path string
	mu   sync.Mutex
}

func NewEnvService(path string) *EnvService {
	return &EnvService{path: path}
}

func (s *EnvService) Path() string {
	return s.path
}

// Read returns the editable settings present in the env file. Secrets are
// masked.
func (s *EnvService) Read() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.readNoLock()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(editable))
	for key, k := range editable {
		v, ok := values[key]
		if !ok {
			continue
		}
		if k == kindSecret && v != "" {
			v = masked
		}
		out[key] = v
	}
	return out, nil
}

func (s *EnvService) readNoLock() (map[string]string, error) {
	values, err := godotenv.Read(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return values, nil
}

// Update validates every key before touching the file; one bad entry rejects
// the whole batch. Keys outside the editable set are preserved as they are.
func (s *EnvService) Update(updates map[string]string) error {
	for key, value := range updates {
		if err := validate(key, value); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readNoLock()
	if err != nil {
		return err
	}
	for k, v := range updates {
		if editable[k] == kindSecret && v == masked {
			continue
		}
		current[k] = v
	}
	return godotenv.Write(current, s.path)
}

// Keys lists the editable settings in a stable order.
func Keys() []string {
	keys := make([]string, 0, len(editable))
	for key := range editable {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func validate(key, value string) error {
	k, ok := editable[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	switch k {
	case kindDuration:
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: %s wants a positive duration, got %q", ErrInvalidValue, key, value)
		}
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: %s wants a positive integer, got %q", ErrInvalidValue, key, value)
		}
	case kindBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%w: %s wants true or false, got %q", ErrInvalidValue, key, value)
		}
	}
	if key == "SPIN_TIMEZONE" {
		if _, err := time.LoadLocation(value); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
		}
	}
	return nil
}
