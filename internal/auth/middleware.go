package auth

import (
	"net/http"
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/rs/zerolog"

	"github.com/sabormirandiano/casino-api/internal/common"
)

// RoleStaff is the role required for manual payment mutations.
const RoleStaff = "staff"

const deviceKeyHeader = "X-Device-Key"

// RequireStaff validates the bearer token and requires the staff role. The
// subject and roles land in the request context for downstream logging.
func RequireStaff(parser TokenParser, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
				return
			}
			claims, err := parser.Parse(raw)
			if err != nil {
				logger.Warn().Err(err).Str("path", r.URL.Path).Msg("rejected bearer token")
				common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token", nil)
				return
			}
			ctx := common.WithSubject(r.Context(), claims.Subject)
			ctx = common.WithRoles(ctx, claims.Roles)
			if !common.HasRole(ctx, RoleStaff) {
				common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "staff role required", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DeviceKeys verifies POS terminal API keys. Keys are provisioned as
// "device-id:argon2id-hash" pairs; the terminal sends
// "X-Device-Key: <device-id>:<secret>".
type DeviceKeys struct {
	Hashes map[string]string
	Logger zerolog.Logger
}

// RequireDevice authenticates the POS terminal and stores its id in the
// request context.
func (d DeviceKeys) RequireDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deviceID, secret, ok := splitDeviceKey(r.Header.Get(deviceKeyHeader))
		if !ok {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing device key", nil)
			return
		}
		hash, known := d.Hashes[deviceID]
		if !known {
			d.Logger.Warn().Str("device_id", deviceID).Msg("unknown POS device")
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid device key", nil)
			return
		}
		match, err := argon2id.ComparePasswordAndHash(secret, hash)
		if err != nil || !match {
			d.Logger.Warn().Str("device_id", deviceID).Msg("device key verification failed")
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid device key", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithDeviceID(r.Context(), deviceID)))
	})
}

// StaffOrDevice admits either a staff bearer token or a POS device key, so
// the approve endpoint serves both counters with terminals and the admin UI.
func StaffOrDevice(parser TokenParser, devices DeviceKeys, logger zerolog.Logger) func(http.Handler) http.Handler {
	staff := RequireStaff(parser, logger)
	return func(next http.Handler) http.Handler {
		viaStaff := staff(next)
		viaDevice := devices.RequireDevice(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(deviceKeyHeader) != "" {
				viaDevice.ServeHTTP(w, r)
				return
			}
			viaStaff.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func splitDeviceKey(header string) (deviceID, secret string, ok bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", "", false
	}
	parts := strings.SplitN(header, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
