package request

// CreateDatasource registers a datasource to back up.
type CreateDatasource struct {
	Name         string `json:"name" validate:"required,slug"`
	Engine       string `json:"engine" validate:"required,oneof=postgres mysql mongodb files"`
	Host         string `json:"host"`
	Port         int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	DatabaseName string `json:"database_name"`
	RootPath     string `json:"root_path"`
	Enabled      *bool  `json:"enabled"`
}

// UpdateDatasource carries optional field updates; nil means unchanged.
type UpdateDatasource struct {
	Name         *string `json:"name" validate:"omitempty,slug"`
	Host         *string `json:"host"`
	Port         *int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Username     *string `json:"username"`
	Password     *string `json:"password"`
	DatabaseName *string `json:"database_name"`
	RootPath     *string `json:"root_path"`
	Enabled      *bool   `json:"enabled"`
}
