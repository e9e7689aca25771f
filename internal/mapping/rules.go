package mapping

import (
	"context"
	"strconv"
	"strings"

	adldap "github.com/isometry/haridsync/internal/ldap"
	"github.com/isometry/haridsync/internal/source"
)

func fullName(rec source.Record) string {
	var parts []string
	for _, field := range []string{"first_name", "last_name"} {
		if v, ok := rec.String(field); ok && strings.TrimSpace(v) != "" {
			parts = append(parts, strings.TrimSpace(v))
		}
	}
	return strings.Join(parts, " ")
}

func computeFullName(_ context.Context, in Input) ([]string, bool, error) {
	name := fullName(in.Record)
	if name == "" {
		return nil, false, nil
	}
	return []string{name}, true, nil
}

func computeGecos(_ context.Context, in Input) ([]string, bool, error) {
	var parts []string
	if name := fullName(in.Record); name != "" {
		parts = append(parts, name)
	}
	for _, field := range []string{"phone", "email"} {
		if v, ok := in.Record.String(field); ok && strings.TrimSpace(v) != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return nil, false, nil
	}
	return []string{strings.Join(parts, ",")}, true, nil
}

func computeAccountControl(_ context.Context, in Input) ([]string, bool, error) {
	uac := adldap.AccountControl(in.Record.Bool("active"))
	return []string{strconv.FormatInt(int64(uac), 10)}, true, nil
}

func (m *Mapper) computeGroupType(context.Context, Input) ([]string, bool, error) {
	groupType := adldap.CalculateGroupType(m.config.GroupScope, m.config.GroupCategory)
	return []string{strconv.FormatInt(int64(groupType), 10)}, true, nil
}

func (m *Mapper) category(class string) ComputeFunc {
	return func(context.Context, Input) ([]string, bool, error) {
		if m.config.BaseDN == "" {
			return nil, false, nil
		}
		return []string{"CN=" + class + ",CN=Schema,CN=Configuration," + m.config.BaseDN}, true, nil
	}
}

func (m *Mapper) computeCommonName(ctx context.Context, in Input) ([]string, bool, error) {
	if m.config.Names == nil {
		return nil, false, nil
	}
	name, err := m.config.Names.Name(ctx, fullName(in.Record), in.Entry)
	if err != nil {
		return nil, false, err
	}
	return []string{name}, true, nil
}

func (m *Mapper) computePassword(_ context.Context, in Input) ([]string, bool, error) {
	if m.config.Secrets == nil {
		return nil, false, nil
	}
	encoded, present, err := m.config.Secrets.Credential(in.Record, in.Entry.IsNew())
	if err != nil || !present {
		return nil, false, err
	}
	return []string{string(encoded)}, true, nil
}

func (m *Mapper) computeMembers(ctx context.Context, in Input) ([]string, bool, error) {
	if m.config.Members == nil || !in.Record.Has("member_uids") {
		return nil, false, nil
	}
	dns, err := m.config.Members.Resolve(ctx, in.Record.Strings("member_uids"))
	if err != nil {
		return nil, false, err
	}
	return dns, true, nil
}
