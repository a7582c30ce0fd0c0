package msgcat

import (
    "embed"
    "fmt"
    "io/fs"
    "os"
    "path"
    "sort"
    "strings"
    "sync"
    "text/template"

    yaml "gopkg.in/yaml.v3"
)

//go:embed messages.en.yaml
var embedded embed.FS

// Catalog holds user-facing strings under dotted keys (auth.room_exists,
// tx.error.network). Texts with template actions are compiled at load time
// and executed with missingkey=error.
type Catalog struct {
    mu      sync.RWMutex
    entries map[string]entry
}

type entry struct {
    text   string
    source string // file:line
    tpl    *template.Template
}

var (
    defaultOnce sync.Once
    defaultCat  *Catalog
)

// Default returns the embedded catalog without overrides.
func Default() *Catalog {
    defaultOnce.Do(func() {
        c, err := New("")
        if err != nil {
            c = &Catalog{entries: make(map[string]entry)}
        }
        defaultCat = c
    })
    return defaultCat
}

// New loads the embedded English messages, then every .yaml/.yml file in
// overrideDir in name order. Overrides replace defaults; two override files
// defining the same key is an error.
func New(overrideDir string) (*Catalog, error) {
    c := &Catalog{entries: make(map[string]entry)}
    if err := c.load(embedded, []string{"messages.en.yaml"}); err != nil {
        return nil, err
    }
    dir := strings.TrimSpace(overrideDir)
    if dir == "" {
        return c, nil
    }
    fsys := os.DirFS(dir)
    names, err := yamlFiles(fsys)
    if err != nil {
        return nil, fmt.Errorf("msgcat: override dir %s: %w", dir, err)
    }
    if err := c.load(fsys, names); err != nil {
        return nil, err
    }
    return c, nil
}

func yamlFiles(fsys fs.FS) ([]string, error) {
    list, err := fs.ReadDir(fsys, ".")
    if err != nil {
        return nil, err
    }
    var names []string
    for _, d := range list {
        if d.IsDir() {
            continue
        }
        switch strings.ToLower(path.Ext(d.Name())) {
        case ".yaml", ".yml":
            names = append(names, d.Name())
        }
    }
    sort.Strings(names)
    return names, nil
}

// load applies names from fsys as one batch; nothing is applied on error.
func (c *Catalog) load(fsys fs.FS, names []string) error {
    batch := make(map[string]entry)
    for _, name := range names {
        raw, err := fs.ReadFile(fsys, name)
        if err != nil {
            return fmt.Errorf("msgcat: read %s: %w", name, err)
        }
        var doc yaml.Node
        if err := yaml.Unmarshal(raw, &doc); err != nil {
            return fmt.Errorf("msgcat: parse %s: %w", name, err)
        }
        found := make(map[string]entry)
        if err := collect(&doc, "", name, found); err != nil {
            return err
        }
        for k, e := range found {
            if prev, ok := batch[k]; ok {
                return fmt.Errorf("msgcat: key %q defined at %s and %s", k, prev.source, e.source)
            }
            batch[k] = e
        }
    }
    c.mu.Lock()
    for k, e := range batch {
        c.entries[k] = e
    }
    c.mu.Unlock()
    return nil
}

// collect walks a YAML document joining mapping keys with dots.
func collect(n *yaml.Node, prefix, file string, out map[string]entry) error {
    switch n.Kind {
    case yaml.DocumentNode:
        for _, child := range n.Content {
            if err := collect(child, prefix, file, out); err != nil {
                return err
            }
        }
    case yaml.MappingNode:
        for i := 0; i+1 < len(n.Content); i += 2 {
            key := n.Content[i].Value
            if prefix != "" {
                key = prefix + "." + key
            }
            if err := collect(n.Content[i+1], key, file, out); err != nil {
                return err
            }
        }
    case yaml.ScalarNode:
        if n.Tag == "!!null" {
            return nil
        }
        if prefix == "" {
            return fmt.Errorf("msgcat: %s:%d: value without a key", file, n.Line)
        }
        e, err := compile(prefix, n.Value, fmt.Sprintf("%s:%d", file, n.Line))
        if err != nil {
            return err
        }
        out[prefix] = e
    default:
        return fmt.Errorf("msgcat: %s:%d: %q must be a string or a mapping", file, n.Line, prefix)
    }
    return nil
}

func compile(key, text, source string) (entry, error) {
    e := entry{text: text, source: source}
    if !strings.Contains(text, "{{") {
        return e, nil
    }
    tpl, err := template.New(key).Option("missingkey=error").Parse(text)
    if err != nil {
        return entry{}, fmt.Errorf("msgcat: %s: %w", source, err)
    }
    e.tpl = tpl
    return e, nil
}

// Render returns the text for key with data applied to its template actions.
func (c *Catalog) Render(key string, data any) (string, error) {
    c.mu.RLock()
    e, ok := c.entries[strings.TrimSpace(key)]
    c.mu.RUnlock()
    if !ok || strings.TrimSpace(e.text) == "" {
        return "", fmt.Errorf("msgcat: no message for %q", key)
    }
    if e.tpl == nil {
        return e.text, nil
    }
    var b strings.Builder
    if err := e.tpl.Execute(&b, data); err != nil {
        return "", err
    }
    return b.String(), nil
}

// Text is Render that falls back to the key itself.
func (c *Catalog) Text(key string, data any) string {
    if c == nil {
        return key
    }
    s, err := c.Render(key, data)
    if err != nil {
        return key
    }
    return s
}
