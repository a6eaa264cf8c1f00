package service

import (
	"encoding/json"
	"slices"

	"github.com/Mgtsampayan/rbac/internal/common"
	"github.com/Mgtsampayan/rbac/internal/models"
)

// Fields that only privileged operations may change.
var protectedProfileFields = []string{
	"id",
	"password",
	"secret",
	"secretHash",
	"role",
	"permissions",
	"status",
	"failedLoginAttempts",
	"isLocked",
	"lockUntil",
	"lastLogin",
	"profileComplete",
	"createdAt",
	"updatedAt",
}

// DecodeProfilePatch builds a ProfilePatch from a raw JSON object. Only
// username and email are accepted.
func DecodeProfilePatch(raw map[string]json.RawMessage) (models.ProfilePatch, error) {
	var patch models.ProfilePatch

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		switch key {
		case "username", "email":
			var value string
			if err := json.Unmarshal(raw[key], &value); err != nil {
				return models.ProfilePatch{}, common.NewValidationError(key, "must be a string")
			}
			if key == "username" {
				patch.Username = &value
			} else {
				patch.Email = &value
			}
		default:
			if slices.Contains(protectedProfileFields, key) {
				return models.ProfilePatch{}, common.NewValidationError(key, "cannot be changed through profile update")
			}
			return models.ProfilePatch{}, common.NewValidationError(key, "unknown field")
		}
	}

	if patch.Empty() {
		return models.ProfilePatch{}, common.NewValidationError("", "no updatable fields")
	}
	return patch, nil
}
