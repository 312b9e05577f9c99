package auth

import (
	"fmt"
	"sort"

	"slam/internal/config"
	"slam/internal/domain"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	ActorID    string
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service resolves actor roles from the permissions section of slam.yml.
type Service struct {
	Config *config.Config
}

// RoleFor returns the assigned role, or the default role.
func (s Service) RoleFor(actorID string) string {
	if s.Config == nil {
		return ""
	}
	if role, ok := s.Config.Permissions.Assignments[actorID]; ok {
		return role
	}
	return s.Config.Permissions.DefaultRole
}

// ActorPermissions lists the permission ids granted to actorID, sorted.
func (s Service) ActorPermissions(actorID string) []string {
	if s.Config == nil {
		return nil
	}
	role, ok := s.Config.Permissions.Roles[s.RoleFor(actorID)]
	if !ok {
		return nil
	}
	perms := append([]string(nil), role.Permissions...)
	sort.Strings(perms)
	return perms
}

func (s Service) ActorHasPermission(actorID, perm string) bool {
	for _, p := range s.ActorPermissions(actorID) {
		if p == perm || p == config.PermAdmin {
			return true
		}
	}
	return false
}

// Require returns ForbiddenError unless actorID holds perm.
func (s Service) Require(actorID, perm string) error {
	if s.ActorHasPermission(actorID, perm) {
		return nil
	}
	return ForbiddenError{ActorID: actorID, Permission: perm}
}

// Permissions summarises what actorID may do.
func (s Service) Permissions(actorID string) domain.Permissions {
	return domain.Permissions{
		ActorID:   actorID,
		Role:      s.RoleFor(actorID),
		CanView:   s.ActorHasPermission(actorID, config.PermView),
		CanCreate: s.ActorHasPermission(actorID, config.PermCreate),
		CanEdit:   s.ActorHasPermission(actorID, config.PermEdit),
		CanDelete: s.ActorHasPermission(actorID, config.PermDelete),
		IsAdmin:   s.ActorHasPermission(actorID, config.PermAdmin),
	}
}
