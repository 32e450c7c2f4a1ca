package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-autotest/internal/utils"
)

// RunnerRole is carried by the machine tokens of the AutoTest runners that push run snapshots.
const RunnerRole = "autotest_runner"

// GraderRoles may edit AutoTest definitions, restart results and change rubric selections.
var GraderRoles = []string{"admin", "teacher"}

// SnapshotRoles may push run snapshots over HTTP.
var SnapshotRoles = []string{"admin", "teacher", RunnerRole}

// RequireRole rejects callers whose user_role local is not one of roles.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if normalized := normalizeRoleValue(role); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		if _, ok := allowed[normalizeRoleValue(c.Locals("user_role"))]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	}
}
