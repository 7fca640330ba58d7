package schema

import (
	"encoding/json"
	"strings"
)

// Type 描述节点的类型标签
type Type int

const (
	String Type = iota
	Integer
	FloatOrNull
	NullableString
	NullableInteger
	Boolean
	Object
	Array
)

// tag 返回写入 prompt 的类型标记
func (t Type) tag() string {
	switch t {
	case String:
		return "str"
	case Integer:
		return "int"
	case FloatOrNull:
		return "float|null"
	case NullableString:
		return "str|null"
	case NullableInteger:
		return "int|null"
	case Boolean:
		return "bool"
	case Object:
		return "object"
	case Array:
		return "array"
	default:
		return "unknown"
	}
}

// String 实现 fmt.Stringer
func (t Type) String() string {
	return t.tag()
}

// Nullable 是否接受 JSON null
func (t Type) Nullable() bool {
	return t == FloatOrNull || t == NullableString || t == NullableInteger
}

// Node 描述树中的一个节点：基础类型、对象或数组
type Node struct {
	Type   Type
	Fields []Field // 仅 Object 使用，保持声明顺序
	Elem   *Node   // 仅 Array 使用
}

// Field 对象字段
type Field struct {
	Name     string
	Required bool
	Node     *Node
}

// Descriptor 带版本的 schema 描述，校验器与 prompt 共用同一个值
type Descriptor struct {
	Name    string
	Version int
	Root    *Node
}

// Prim 构造基础类型节点
func Prim(t Type) *Node {
	return &Node{Type: t}
}

// Obj 构造对象节点
func Obj(fields ...Field) *Node {
	return &Node{Type: Object, Fields: fields}
}

// ArrayOf 构造数组节点
func ArrayOf(elem *Node) *Node {
	return &Node{Type: Array, Elem: elem}
}

// Req 必填字段
func Req(name string, n *Node) Field {
	return Field{Name: name, Required: true, Node: n}
}

// Opt 可选字段
func Opt(name string, n *Node) Field {
	return Field{Name: name, Node: n}
}

// RecipeV1 返回唯一的规范 recipe 描述（6 个顶层字段）
func RecipeV1() Descriptor {
	equipment := Obj(
		Req("name", Prim(String)),
		Opt("usage", Prim(NullableString)),
	)
	step := Obj(
		Req("number", Prim(Integer)),
		Req("instruction", Prim(String)),
		Opt("duration_min", Prim(NullableInteger)),
		Opt("equipment", ArrayOf(equipment)),
		Opt("notes", Prim(NullableString)),
	)
	ingredient := Obj(
		Req("name", Prim(String)),
		Opt("quantity", Prim(FloatOrNull)),
		Opt("unit", Prim(NullableString)),
		Opt("notes", Prim(NullableString)),
	)
	return Descriptor{
		Name:    "recipe",
		Version: 1,
		Root: Obj(
			Req("title", Prim(String)),
			Req("servings", Prim(Integer)),
			Req("difficulty", Prim(String)),
			Req("time", Obj(
				Req("prep_min", Prim(Integer)),
				Req("cook_min", Prim(Integer)),
				Req("total_min", Prim(Integer)),
			)),
			Req("ingredients", ArrayOf(ingredient)),
			Req("steps", ArrayOf(step)),
		),
	}
}

// Lookup 按名称和版本查找描述，找不到返回 false
func Lookup(name string, version int) (Descriptor, bool) {
	d := RecipeV1()
	if name == d.Name && (version == 0 || version == d.Version) {
		return d, true
	}
	return Descriptor{}, false
}

// PromptJSON 按声明顺序把描述序列化成写进 system prompt 的 JSON 形状
func (d Descriptor) PromptJSON() string {
	var sb strings.Builder
	writeNode(&sb, d.Root)
	return sb.String()
}

func writeNode(sb *strings.Builder, n *Node) {
	if n == nil {
		sb.WriteString(`null`)
		return
	}
	switch n.Type {
	case Object:
		sb.WriteByte('{')
		for i, f := range n.Fields {
			if i > 0 {
				sb.WriteByte(',')
			}
			name, _ := json.Marshal(f.Name)
			sb.Write(name)
			sb.WriteByte(':')
			writeNode(sb, f.Node)
		}
		sb.WriteByte('}')
	case Array:
		sb.WriteByte('[')
		writeNode(sb, n.Elem)
		sb.WriteByte(']')
	default:
		sb.WriteByte('"')
		sb.WriteString(n.Type.tag())
		sb.WriteByte('"')
	}
}

// RequiredFields 返回根对象的必填字段名，用于 prompt 提示
func (d Descriptor) RequiredFields() []string {
	if d.Root == nil || d.Root.Type != Object {
		return nil
	}
	var names []string
	for _, f := range d.Root.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}
