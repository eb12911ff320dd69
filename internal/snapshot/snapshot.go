// Package snapshot reads a serialized compilation snapshot: the value-type
// metadata, routine CFGs, and construction sites a front end hands to the
// analyzer. The YAML form exists for the CLI driver and integration tests;
// in-process callers build the same structures directly.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/calyx-lang/initcheck/internal/analysis"
	"github.com/calyx-lang/initcheck/internal/cfg"
	"github.com/calyx-lang/initcheck/internal/metadata"
	"github.com/calyx-lang/initcheck/internal/token"
)

type posYAML struct {
	File string `yaml:"file"`
	Line int    `yaml:"line"`
	Col  int    `yaml:"col"`
}

func (p posYAML) pos() token.Pos {
	return token.Pos{File: p.File, Line: p.Line, Column: p.Col}
}

type fieldYAML struct {
	Name      string `yaml:"name"`
	Access    string `yaml:"access"`
	ValueType string `yaml:"valueType"`
}

type propertyYAML struct {
	Name      string `yaml:"name"`
	Access    string `yaml:"access"`
	ValueType string `yaml:"valueType"`
}

type ctorYAML struct {
	Params  []string `yaml:"params"`
	Access  string   `yaml:"access"`
	Primary bool     `yaml:"primary"`
}

type typeYAML struct {
	ID           string         `yaml:"id"`
	Name         string         `yaml:"name"`
	Origin       string         `yaml:"origin"`
	Constraints  []string       `yaml:"constraints"`
	Fields       []fieldYAML    `yaml:"fields"`
	AutoProps    []propertyYAML `yaml:"autoProperties"`
	Constructors []ctorYAML     `yaml:"constructors"`
}

type varYAML struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Receiver bool   `yaml:"receiver"`
}

type nodeYAML struct {
	Op     string  `yaml:"op"`
	Var    string  `yaml:"var"`
	Path   string  `yaml:"path"`
	Member string  `yaml:"member"`
	Site   string  `yaml:"site"`
	Pos    posYAML `yaml:"pos"`
}

type blockYAML struct {
	Succs []int      `yaml:"succs"`
	Nodes []nodeYAML `yaml:"nodes"`
}

type routineYAML struct {
	Name         string      `yaml:"name"`
	Kind         string      `yaml:"kind"`
	Receiver     string      `yaml:"receiver"`
	ChainsToCtor bool        `yaml:"chainsToCtor"`
	Vars         []varYAML   `yaml:"vars"`
	Blocks       []blockYAML `yaml:"blocks"`
}

type siteYAML struct {
	ID        string  `yaml:"id"`
	Type      string  `yaml:"type"`
	TypeParam string  `yaml:"typeParam"`
	HasNew    bool    `yaml:"hasNew"`
	Context   string  `yaml:"context"`
	Pos       posYAML `yaml:"pos"`
}

type snapshotYAML struct {
	Types    []typeYAML    `yaml:"types"`
	Routines []routineYAML `yaml:"routines"`
	Sites    []siteYAML    `yaml:"sites"`
}

// LoadFile reads a snapshot file and builds the compilation plus a content
// hash usable as a cache key.
func LoadFile(path string) (*analysis.Compilation, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading snapshot: %w", err)
	}
	comp, err := Load(data)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(data)
	return comp, hex.EncodeToString(sum[:]), nil
}

// Load decodes a YAML snapshot into an analyzable compilation.
func Load(data []byte) (*analysis.Compilation, error) {
	var doc snapshotYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}

	store := metadata.NewMapStore()
	for _, t := range doc.Types {
		td, err := buildType(t)
		if err != nil {
			return nil, err
		}
		store.Add(td)
	}

	sites := make(map[string]*cfg.ConstructionSite, len(doc.Sites))
	var siteList []*cfg.ConstructionSite
	for _, s := range doc.Sites {
		site, err := buildSite(s)
		if err != nil {
			return nil, err
		}
		if _, dup := sites[s.ID]; dup {
			return nil, fmt.Errorf("snapshot: duplicate site id %q", s.ID)
		}
		sites[s.ID] = site
		siteList = append(siteList, site)
	}

	var routines []*cfg.Routine
	for _, r := range doc.Routines {
		routine, err := buildRoutine(r, sites)
		if err != nil {
			return nil, err
		}
		routines = append(routines, routine)
	}

	return &analysis.Compilation{Store: store, Routines: routines, Sites: siteList}, nil
}

func buildType(t typeYAML) (*metadata.ValueTypeDescriptor, error) {
	if t.ID == "" {
		return nil, fmt.Errorf("snapshot: type with empty id")
	}
	td := &metadata.ValueTypeDescriptor{
		ID:   metadata.TypeID(t.ID),
		Name: t.Name,
	}
	if td.Name == "" {
		td.Name = t.ID
	}
	switch t.Origin {
	case "", "local":
		td.Origin = metadata.OriginLocal
	case "imported":
		td.Origin = metadata.OriginImported
	default:
		return nil, fmt.Errorf("snapshot: type %s: unknown origin %q", t.ID, t.Origin)
	}
	for _, c := range t.Constraints {
		td.Constraints = append(td.Constraints, metadata.Constraint(c))
	}
	for _, f := range t.Fields {
		acc, err := parseAccess(f.Access)
		if err != nil {
			return nil, fmt.Errorf("snapshot: type %s, field %s: %w", t.ID, f.Name, err)
		}
		td.Fields = append(td.Fields, metadata.FieldDescriptor{
			Name:          f.Name,
			Accessibility: acc,
			ValueType:     metadata.TypeID(f.ValueType),
		})
	}
	for _, p := range t.AutoProps {
		acc, err := parseAccess(p.Access)
		if err != nil {
			return nil, fmt.Errorf("snapshot: type %s, property %s: %w", t.ID, p.Name, err)
		}
		td.Fields = append(td.Fields, metadata.AutoPropertyBacking(p.Name, acc, metadata.TypeID(p.ValueType)))
	}
	for _, c := range t.Constructors {
		acc, err := parseAccess(c.Access)
		if err != nil {
			return nil, fmt.Errorf("snapshot: type %s, constructor: %w", t.ID, err)
		}
		ctor := metadata.ConstructorDescriptor{
			Accessibility: acc,
			IsPrimary:     c.Primary,
		}
		for _, p := range c.Params {
			ctor.Params = append(ctor.Params, metadata.TypeID(p))
		}
		td.Constructors = append(td.Constructors, ctor)
	}
	return td, nil
}

func buildSite(s siteYAML) (*cfg.ConstructionSite, error) {
	if s.ID == "" {
		return nil, fmt.Errorf("snapshot: site with empty id")
	}
	if (s.Type == "") == (s.TypeParam == "") {
		return nil, fmt.Errorf("snapshot: site %s: exactly one of type and typeParam required", s.ID)
	}
	site := &cfg.ConstructionSite{
		ID:          cfg.SiteID(s.ID),
		Type:        metadata.TypeID(s.Type),
		TypeParam:   s.TypeParam,
		ParamHasNew: s.HasNew,
		Pos:         s.Pos.pos(),
	}
	switch s.Context {
	case "", "expression":
		site.Context = cfg.DirectExpression
	case "defaultArg":
		site.Context = cfg.DefaultArgumentInitializer
	case "chain":
		site.Context = cfg.ConstructorChainTarget
	case "generated":
		site.Context = cfg.GeneratedDefaultCtor
	default:
		return nil, fmt.Errorf("snapshot: site %s: unknown context %q", s.ID, s.Context)
	}
	return site, nil
}

func buildRoutine(r routineYAML, sites map[string]*cfg.ConstructionSite) (*cfg.Routine, error) {
	routine := &cfg.Routine{
		Name:         r.Name,
		ChainsToCtor: r.ChainsToCtor,
		Receiver:     -1,
	}
	switch r.Kind {
	case "", "ordinary":
		routine.Kind = cfg.Ordinary
	case "constructor":
		routine.Kind = cfg.Constructor
	default:
		return nil, fmt.Errorf("snapshot: routine %s: unknown kind %q", r.Name, r.Kind)
	}

	varIDs := make(map[string]cfg.VarID, len(r.Vars))
	for i, v := range r.Vars {
		id := cfg.VarID(i)
		if _, dup := varIDs[v.Name]; dup {
			return nil, fmt.Errorf("snapshot: routine %s: duplicate variable %q", r.Name, v.Name)
		}
		varIDs[v.Name] = id
		routine.Vars = append(routine.Vars, cfg.Var{
			ID:         id,
			Name:       v.Name,
			Type:       metadata.TypeID(v.Type),
			IsReceiver: v.Receiver,
		})
		if v.Receiver {
			routine.Receiver = id
		}
	}
	if r.Receiver != "" {
		id, ok := varIDs[r.Receiver]
		if !ok {
			return nil, fmt.Errorf("snapshot: routine %s: unknown receiver %q", r.Name, r.Receiver)
		}
		routine.Receiver = id
	}
	if routine.Kind == cfg.Constructor && routine.Receiver < 0 {
		return nil, fmt.Errorf("snapshot: routine %s: constructor without receiver variable", r.Name)
	}

	for bi, b := range r.Blocks {
		block := &cfg.Block{Index: bi}
		for _, s := range b.Succs {
			if s < 0 || s >= len(r.Blocks) {
				return nil, fmt.Errorf("snapshot: routine %s: block %d: successor %d out of range", r.Name, bi, s)
			}
			block.Succs = append(block.Succs, s)
		}
		for ni, n := range b.Nodes {
			node, err := buildNode(n, varIDs, sites)
			if err != nil {
				return nil, fmt.Errorf("snapshot: routine %s: block %d, node %d: %w", r.Name, bi, ni, err)
			}
			block.Nodes = append(block.Nodes, node)
		}
		routine.Blocks = append(routine.Blocks, block)
	}
	if len(routine.Blocks) == 0 {
		routine.Blocks = []*cfg.Block{{Index: 0}}
	}
	return routine, nil
}

func buildNode(n nodeYAML, varIDs map[string]cfg.VarID, sites map[string]*cfg.ConstructionSite) (cfg.Node, error) {
	node := cfg.Node{Pos: n.Pos.pos(), Path: n.Path, Memb: n.Member, Var: -1}
	if n.Var != "" {
		id, ok := varIDs[n.Var]
		if !ok {
			return node, fmt.Errorf("unknown variable %q", n.Var)
		}
		node.Var = id
	}
	switch n.Op {
	case "assign":
		node.Kind = cfg.AssignPath
	case "assignWhole":
		node.Kind = cfg.AssignWhole
	case "read":
		node.Kind = cfg.ReadPath
	case "call":
		node.Kind = cfg.Call
	case "chain":
		node.Kind = cfg.ChainCall
	case "construct":
		node.Kind = cfg.Construct
		site, ok := sites[n.Site]
		if !ok {
			return node, fmt.Errorf("unknown site %q", n.Site)
		}
		node.Site = site
	default:
		return node, fmt.Errorf("unknown op %q", n.Op)
	}
	if node.Kind != cfg.Construct && node.Var < 0 {
		return node, fmt.Errorf("op %q requires a variable", n.Op)
	}
	return node, nil
}

func parseAccess(s string) (metadata.Accessibility, error) {
	switch s {
	case "", "public":
		return metadata.Public, nil
	case "internal":
		return metadata.Internal, nil
	case "private":
		return metadata.Private, nil
	default:
		return metadata.Public, fmt.Errorf("unknown accessibility %q", s)
	}
}
