package types

import (
	"fmt"
	"strconv"
	"strings"
)

var byName = map[string]Kind{
	"null":         KindNull,
	"integer":      KindInteger,
	"int":          KindInteger,
	"biginteger":   KindBigInteger,
	"bigint":       KindBigInteger,
	"smallinteger": KindSmallInteger,
	"smallint":     KindSmallInteger,
	"string":       KindString,
	"varchar":      KindString,
	"text":         KindText,
	"boolean":      KindBoolean,
	"bool":         KindBoolean,
	"float":        KindFloat,
	"numeric":      KindNumeric,
	"decimal":      KindNumeric,
	"date":         KindDate,
	"datetime":     KindDateTime,
	"timestamp":    KindDateTime,
	"timestamptz":  KindDateTime,
	"time":         KindTime,
	"binary":       KindBinary,
	"blob":         KindBinary,
	"uuid":         KindUUID,
	"json":         KindJSON,
	"msgpack":      KindMsgPack,
	"enum":         KindEnum,
}

// Lookup parses a catalog type name such as "string(64)", "numeric(10,2)"
// or "enum(a,b)". Unknown names resolve to Null and ok is false.
func Lookup(name string) (t Type, ok bool, err error) {
	name = strings.ToLower(strings.TrimSpace(name))
	base, args := name, ""
	if i := strings.IndexByte(name, '('); i >= 0 {
		if !strings.HasSuffix(name, ")") {
			return Null(), false, fmt.Errorf("types: malformed type %q", name)
		}
		base, args = strings.TrimSpace(name[:i]), name[i+1:len(name)-1]
	}
	kind, ok := byName[base]
	if !ok {
		return Null(), false, nil
	}
	t = Type{Kind: kind, Timezone: base == "timestamptz"}
	if args == "" {
		return t, true, nil
	}
	parts := strings.Split(args, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch kind {
	case KindEnum:
		t.Enums = parts
	case KindNumeric:
		if t.Precision, err = strconv.Atoi(parts[0]); err != nil {
			return Null(), false, fmt.Errorf("types: malformed precision in %q", name)
		}
		if len(parts) > 1 {
			if t.Scale, err = strconv.Atoi(parts[1]); err != nil {
				return Null(), false, fmt.Errorf("types: malformed scale in %q", name)
			}
		}
	default:
		if t.Length, err = strconv.Atoi(parts[0]); err != nil {
			return Null(), false, fmt.Errorf("types: malformed length in %q", name)
		}
	}
	return t, true, nil
}
