package config

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExampleYAML is written by "haridsync setup" when no settings file exists.
const ExampleYAML = `# haridsync settings
#
# Relative file names are resolved against the directory of this file.
# Every key can be overridden with a HARIDSYNC_* environment variable.

# Set to true once the portal and directory settings below are complete.
enabled: false

portal:
  host: harid.example.com
  username: ""
  secret: ""
  ca_cert: cacert.pem
  api_version: 2
  # snapshot_file: snapshot.json

ldap:
  urls:
    - ldaps://dc1.example.com:636
  # Or leave urls empty and discover domain controllers via DNS SRV records:
  # domain: example.com
  base_dn: DC=example,DC=com
  bind_dn: CN=haridsync,CN=Users,DC=example,DC=com
  password: ""
  start_tls: true
  timeout: 30s
  # kerberos:
  #   realm: EXAMPLE.COM
  #   keytab: haridsync.keytab

sync:
  private_key: haridsync_private.key
  user_ou_default: CN=Users
  group_ou_default: CN=Users
  group_scope: Global
  group_category: Security
  placeholder_length: 24
  user_aux_classes:
    - posixAccount
  group_aux_classes:
    - posixGroup

metrics:
  pushgateway_url: ""
  job: haridsync

log:
  level: info
  json: false
`

// RenderExample returns ExampleYAML with the scalar values at the given
// dotted keys (e.g. "portal.host") replaced. Comments are preserved.
func RenderExample(values map[string]string) ([]byte, error) {
	if len(values) == 0 {
		return []byte(ExampleYAML), nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleYAML), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse example settings: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("example settings are empty")
	}

	for _, key := range slices.Sorted(maps.Keys(values)) {
		node, err := lookupNode(doc.Content[0], strings.Split(key, "."))
		if err != nil {
			return nil, err
		}
		node.Kind = yaml.ScalarNode
		node.Tag = "!!str"
		node.Style = 0
		node.Value = values[key]
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to render settings: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to render settings: %w", err)
	}
	return buf.Bytes(), nil
}

// lookupNode returns the value node at path inside a mapping node.
func lookupNode(node *yaml.Node, path []string) (*yaml.Node, error) {
	for i, name := range path {
		if node.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("setting %q is not a section", strings.Join(path[:i], "."))
		}
		var next *yaml.Node
		for j := 0; j+1 < len(node.Content); j += 2 {
			if node.Content[j].Value == name {
				next = node.Content[j+1]
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("unknown setting %q", strings.Join(path[:i+1], "."))
		}
		node = next
	}
	return node, nil
}
