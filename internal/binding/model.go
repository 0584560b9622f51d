package binding

// Catalog: привязки таблиц источника к сущностям DSL
type Catalog struct {
	Tables []Table `yaml:"tables"`
}

// Table описывает одну прямо отображаемую таблицу
type Table struct {
	Table  string `yaml:"table"`
	Entity string `yaml:"entity"` // FQN: module.Entity
	Sink   string `yaml:"sink"`   // имя sink'а: memory | sql
	// Статические имена колонок, если table-map их не несёт
	Columns []string `yaml:"columns,omitempty"`
	// Имя целевой таблицы для sql-sink'а (по умолчанию: из имени сущности)
	Target string `yaml:"target,omitempty"`
}
