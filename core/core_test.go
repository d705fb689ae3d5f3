package core

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestRole_JSON_Unmarshalling(t *testing.T) {

	type Object struct {
		Roles []Role `json:"roles"`
	}
	var object Object
	jsonRead := `{"roles":["user","moderator","admin"]}`
	err := json.Unmarshal([]byte(jsonRead), &object)
	if err != nil {
		t.Fatal(err)
	}
	if len(object.Roles) != 3 || object.Roles[2] != RoleAdmin {
		t.Fatal("unexpected roles", object.Roles)
	}

	jsonRead = `{"roles":["owner"]}`
	err = json.Unmarshal([]byte(jsonRead), &object)
	if err == nil {
		t.Fatal("invalid role accepted")
	}

}

func TestRole_AtLeast(t *testing.T) {
	if !RoleAdmin.AtLeast(RoleModerator) || !RoleModerator.AtLeast(RoleModerator) {
		t.Fatal("admin and moderator must rank at least moderator")
	}
	if RoleUser.AtLeast(RoleModerator) {
		t.Fatal("user must rank below moderator")
	}
	if Role("owner").AtLeast(RoleUser) {
		t.Fatal("unknown roles must rank below user")
	}
}
