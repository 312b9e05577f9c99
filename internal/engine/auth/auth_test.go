package auth

import (
	"errors"
	"reflect"
	"testing"

	"slam/internal/config"
)

func TestPermissionsFollowRoleAssignments(t *testing.T) {
	cfg := config.Default()
	cfg.Permissions.Assignments = map[string]string{"ada": "admin", "vic": "viewer"}
	svc := Service{Config: cfg}

	admin := svc.Permissions("ada")
	if !admin.IsAdmin || !admin.CanDelete || admin.Role != "admin" {
		t.Fatalf("admin = %+v", admin)
	}
	viewer := svc.Permissions("vic")
	if !viewer.CanView || viewer.CanCreate || viewer.CanEdit || viewer.CanDelete {
		t.Fatalf("viewer = %+v", viewer)
	}
	other := svc.Permissions("someone")
	if other.Role != "editor" || !other.CanEdit || other.CanDelete {
		t.Fatalf("default role = %+v", other)
	}
	if got := svc.ActorPermissions("vic"); !reflect.DeepEqual(got, []string{config.PermView}) {
		t.Fatalf("viewer perms = %v", got)
	}
}

func TestRequire(t *testing.T) {
	svc := Service{Config: config.Default()}
	err := svc.Require("anyone", config.PermDelete)
	var fe ForbiddenError
	if !errors.As(err, &fe) || fe.Permission != config.PermDelete {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := svc.Require("anyone", config.PermEdit); err != nil {
		t.Fatalf("editor should edit: %v", err)
	}
}
