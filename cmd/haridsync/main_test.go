package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/cli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adldap "github.com/isometry/haridsync/internal/ldap"
	"github.com/isometry/haridsync/internal/ldap/ldaptest"
	"github.com/isometry/haridsync/internal/secret"
)

const settingsYAML = `
enabled: true
portal:
  snapshot_file: snapshot.json
ldap:
  urls: [ldaps://dc1.example.com]
  base_dn: dc=example,dc=com
  bind_dn: CN=haridsync,CN=Users,DC=example,DC=com
  password: hunter2
sync:
  private_key: test.key
log:
  level: error
`

const snapshotJSON = `{
  "users": [
    {"uid": "jsmith", "uid_number": 1001, "gid_number": 5000, "first_name": "John", "last_name": "Smith", "active": true},
    {"uid": "jsmith2", "uid_number": 1002, "gid_number": 5000, "first_name": "John", "last_name": "Smith", "active": false}
  ],
  "groups": [
    {"name": "staff", "gid_number": 5000, "member_uids": ["jsmith", "jsmith2"]}
  ],
  "deleted_users": [
    {"uid": "gone", "uid_number": 1099}
  ]
}`

func writeFixture(t *testing.T, withKey bool) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "haridsync.yml"), []byte(settingsYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snapshot.json"), []byte(snapshotJSON), 0o600))
	if withKey {
		key, err := secret.GenerateKey()
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "test.key"), secret.PrivateKeyPEM(key), 0o600))
	}
	return dir
}

func syncWith(dir *ldaptest.Directory) (*SyncCommand, *cli.MockUi) {
	ui := cli.NewMockUi()
	return &SyncCommand{
		UI: ui,
		newClient: func(*adldap.ConnectionConfig) (adldap.Client, error) {
			return dir, nil
		},
	}, ui
}

func TestSyncFromSnapshotFile(t *testing.T) {
	root := writeFixture(t, true)
	directory := ldaptest.New()
	directory.Seed("CN=Gone,CN=Users,DC=example,DC=com", map[string][]string{
		"objectClass":    {"top", "user"},
		"cn":             {"Gone"},
		"sAMAccountName": {"gone"},
		"uidNumber":      {"1099"},
	})
	cmd, ui := syncWith(directory)

	code := cmd.Run([]string{"-config", filepath.Join(root, "haridsync.yml"), "-env-file", ""})
	require.Equal(t, 0, code, ui.ErrorWriter.String())

	first := directory.Find("jsmith")
	require.NotNil(t, first)
	assert.Equal(t, "CN=John Smith,CN=Users,DC=example,DC=com", first.DN)

	second := directory.Find("jsmith2")
	require.NotNil(t, second)
	assert.Equal(t, "CN=John Smith2,CN=Users,DC=example,DC=com", second.DN)
	assert.Equal(t, "514", second.GetAttributeValue("userAccountControl"))

	group := directory.Find("staff")
	require.NotNil(t, group)
	assert.ElementsMatch(t, []string{first.DN, second.DN}, group.GetAttributeValues("member"))

	assert.Nil(t, directory.Find("gone"))

	out := ui.OutputWriter.String()
	assert.Contains(t, out, "users: 2 created, 0 updated, 1 deleted, 0 skipped, 0 failed")
	assert.Contains(t, out, "All done.")
}

func TestSyncSnapshotFlagOverridesSettings(t *testing.T) {
	root := writeFixture(t, true)
	other := filepath.Join(t.TempDir(), "other.json")
	require.NoError(t, os.WriteFile(other, []byte(`{"groups": [{"name": "only", "gid_number": 7}]}`), 0o600))

	directory := ldaptest.New()
	cmd, ui := syncWith(directory)

	code := cmd.Run([]string{"-config", filepath.Join(root, "haridsync.yml"), "-env-file", "", "-snapshot", other})
	require.Equal(t, 0, code, ui.ErrorWriter.String())
	assert.NotNil(t, directory.Find("only"))
	assert.Nil(t, directory.Find("jsmith"))
}

func TestSyncMissingKeyIsFatal(t *testing.T) {
	root := writeFixture(t, false)
	directory := ldaptest.New()
	cmd, ui := syncWith(directory)

	code := cmd.Run([]string{"-config", filepath.Join(root, "haridsync.yml"), "-env-file", ""})
	assert.Equal(t, 1, code)
	assert.Contains(t, ui.ErrorWriter.String(), "failed to load private key")
	assert.Empty(t, directory.DNs(), "no entity is processed after a key failure")
}

func TestSyncDisabled(t *testing.T) {
	root := writeFixture(t, true)
	path := filepath.Join(root, "haridsync.yml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(settingsYAML, "enabled: true", "enabled: false", 1)), 0o600))

	directory := ldaptest.New()
	cmd, ui := syncWith(directory)

	assert.Equal(t, 0, cmd.Run([]string{"-config", path, "-env-file", ""}))
	assert.Contains(t, ui.ErrorWriter.String(), "disabled")
	assert.Empty(t, directory.DNs())
}

func TestSyncInvalidSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "haridsync.yml")
	require.NoError(t, os.WriteFile(path, []byte("enabled: true\n"), 0o600))

	cmd, ui := syncWith(ldaptest.New())
	assert.Equal(t, 1, cmd.Run([]string{"-config", path, "-env-file", ""}))
	assert.Contains(t, ui.ErrorWriter.String(), "ldap.base_dn")
}

func TestSetupCreatesSettingsAndKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "haridsync.yml")
	ui := cli.NewMockUi()
	cmd := &SetupCommand{UI: ui}

	require.Equal(t, 0, cmd.Run([]string{"-config", path, "-env-file", "", "-host", "harid.school.ee"}), ui.ErrorWriter.String())

	settings, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(settings), "harid.school.ee")

	keyPath := filepath.Join(dir, "conf", "haridsync_private.key")
	first, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	assert.Contains(t, ui.OutputWriter.String(), "BEGIN PUBLIC KEY")

	ui = cli.NewMockUi()
	cmd = &SetupCommand{UI: ui}
	require.Equal(t, 0, cmd.Run([]string{"-config", path, "-env-file", ""}))
	second, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	assert.Equal(t, first, second, "existing key is kept")
	assert.Contains(t, ui.OutputWriter.String(), "Private key exists")
}

func TestPublicKey(t *testing.T) {
	root := writeFixture(t, true)
	ui := cli.NewMockUi()
	cmd := &PublicKeyCommand{UI: ui}

	require.Equal(t, 0, cmd.Run([]string{"-config", filepath.Join(root, "haridsync.yml"), "-env-file", ""}))
	assert.Contains(t, ui.OutputWriter.String(), "BEGIN PUBLIC KEY")

	ui = cli.NewMockUi()
	cmd = &PublicKeyCommand{UI: ui}
	assert.Equal(t, 1, cmd.Run([]string{"-config", filepath.Join(root, "haridsync.yml"), "-env-file", "", "-key", "missing.key"}))
	assert.Contains(t, ui.ErrorWriter.String(), "Run setup")
}

func TestCommandsRegistered(t *testing.T) {
	cmds := commands(cli.NewMockUi())
	for _, name := range []string{"", "sync", "setup", "public-key"} {
		factory, ok := cmds[name]
		require.True(t, ok, name)
		cmd, err := factory()
		require.NoError(t, err)
		assert.NotEmpty(t, cmd.Synopsis())
		assert.NotEmpty(t, cmd.Help())
	}
}
