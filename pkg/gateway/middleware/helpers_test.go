package middleware

import (
	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/rolegate"
)

func actorWithRole(role rolegate.Role) models.Actor {
	return models.Actor{UserID: uuid.New(), Role: role}
}
