package gen

import (
	"fmt"
	"strings"
)

// IsPackedList reports whether v is a single-level sequence container,
// which crosses the boundary as a PackedList.
func IsPackedList(v string) bool {
	v = cleanValueUnsafe(v)
	return (strings.HasPrefix(v, "QList<") ||
		strings.HasPrefix(v, "QVector<") ||
		strings.HasPrefix(v, "QStack<") ||
		strings.HasPrefix(v, "QQueue<")) &&
		strings.Count(v, "<") == 1
}

// UnpackedList is the element type of a packed list type.
func UnpackedList(v string) string {
	return CleanValue(unpackedListDirty(v))
}

func unpackedListDirty(v string) string {
	return strings.Split(strings.Split(v, "<")[1], ">")[0]
}

func IsPackedMap(v string) bool {
	v = cleanValueUnsafe(v)
	return (strings.HasPrefix(v, "QMap<") ||
		strings.HasPrefix(v, "QMultiMap<") ||
		strings.HasPrefix(v, "QHash<") ||
		strings.HasPrefix(v, "QMultiHash<")) &&
		strings.Count(v, "<") == 1
}

// UnpackedMap is the key and value type of a packed map type.
func UnpackedMap(v string) (string, string) {
	kv := strings.SplitN(unpackedListDirty(v), ",", 2)
	if len(kv) != 2 {
		return CleanValue(kv[0]), ""
	}
	return CleanValue(kv[0]), CleanValue(kv[1])
}

// CleanValue strips qualifiers, references and pointers from a C++ type.
// The element type of a container keeps its pointer, as QList<QObject*> and
// QList<QObject> are different containers.
func CleanValue(v string) string {
	clean := cleanValueUnsafe(v)
	if IsPackedList(clean) || IsPackedMap(clean) {
		inside := strings.TrimSpace(unpackedListDirty(v))
		inside = strings.TrimSpace(strings.ReplaceAll(inside, "const", ""))
		inside = strings.ReplaceAll(inside, " *", "*")
		return clean[:strings.Index(clean, "<")+1] + inside + ">"
	}
	return clean
}

func cleanValueUnsafe(v string) string {
	for _, b := range []string{"*", "const", "&amp", "&", ";"} {
		v = strings.ReplaceAll(v, b, "")
	}
	return strings.TrimSpace(v)
}

// CleanName turns a C++ parameter name into one usable in generated Go:
// reserved words lose their last two letters, and unnamed parameters are
// named after their type.
func CleanName(name, value string) string {
	switch name {
	case "type", "func", "range", "string", "int", "map", "const", "interface",
		"select", "strings", "new", "signal", "ptr", "register", "len", "cap":
		return name[:len(name)-2]

	case "":
		v := strings.ToLower(strings.NewReplacer(".", "", "<", "", ">", "", ":", "", ",", "", " ", "").Replace(CleanValue(value)))
		if len(v) >= 3 {
			return fmt.Sprintf("v%v", v[:2])
		}
		return fmt.Sprintf("v%v", v)
	}
	return name
}

// LibDeps lists, per Qt module, the modules it must be linked with.
var LibDeps = map[string][]string{
	"Core":        {"Widgets", "Gui", "Svg"},
	"Gui":         {"Widgets", "Core"},
	"Network":     {"Core"},
	"Xml":         {"XmlPatterns", "Core"},
	"DBus":        {"Core"},
	"Script":      {"Core"},
	"Widgets":     {"Gui", "Core"},
	"Sql":         {"Widgets", "Gui", "Core"},
	"Qml":         {"Network", "Core"},
	"WebSockets":  {"Network", "Core"},
	"XmlPatterns": {"Network", "Core"},
	"WebChannel":  {"Network", "Qml", "Core"},
	"Svg":         {"Widgets", "Gui", "Core"},
	"Quick":       {"Widgets", "Network", "Qml", "Gui", "Core"},
	"ScriptTools": {"Script", "Widgets", "Core"},
	"TestLib":     {"Widgets", "Gui", "Core"},
	"SerialPort":  {"Core"},
}

// libsFor is module followed by its dependencies, without duplicates.
func libsFor(module string) []string {
	out := []string{module}
	for _, dep := range LibDeps[module] {
		if dep != module {
			out = append(out, dep)
		}
	}
	return out
}
