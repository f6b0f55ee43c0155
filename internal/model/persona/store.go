package persona

// Store 提供助手配置的只读访问。
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
	FindByMode(mode Mode) (Persona, bool)
}

// MemoryStore 在内存中按 id 与模式建立索引。数据在构造后不再变化，可并发读取。
type MemoryStore struct {
	ordered []Persona
	byID    map[string]int
	byMode  map[Mode]int
}

// NewMemoryStore 以给定顺序加载助手。id 重复时保留第一个，每种模式取第一个作为默认。
func NewMemoryStore(items []Persona) *MemoryStore {
	s := &MemoryStore{
		ordered: make([]Persona, 0, len(items)),
		byID:    make(map[string]int, len(items)),
		byMode:  make(map[Mode]int, 2),
	}
	for _, item := range items {
		if _, dup := s.byID[item.ID]; dup {
			continue
		}
		idx := len(s.ordered)
		s.ordered = append(s.ordered, item)
		s.byID[item.ID] = idx
		if _, ok := s.byMode[item.Mode]; !ok {
			s.byMode[item.Mode] = idx
		}
	}
	return s
}

func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.ordered...)
}

func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return Persona{}, false
	}
	return s.ordered[idx], true
}

// FindByMode 返回该模式下的默认助手，getGreeting 依赖它。
func (s *MemoryStore) FindByMode(mode Mode) (Persona, bool) {
	idx, ok := s.byMode[mode]
	if !ok {
		return Persona{}, false
	}
	return s.ordered[idx], true
}
