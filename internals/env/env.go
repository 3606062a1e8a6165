package env

import (
	"log"
	"strings"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zenv"
)

const DefaultBackendURL = "http://localhost:8080/"

type EnvStruct struct {
	HOME          string `zog:"HOME"`
	XDG_DATA_HOME string `zog:"XDG_DATA_HOME"`
	BACKEND_URL   string `zog:"SOMEDAEX_BACKEND_URL"`
	LOG_LEVEL     string `zog:"SOMEDAEX_LOG_LEVEL"`
	DATA_DIR      string `zog:"SOMEDAEX_DATA_DIR"`
}

var env *EnvStruct

var EnvSchema = z.Struct(z.Shape{
	"HOME":          z.String(),
	"XDG_DATA_HOME": z.String().Optional(),
	"BACKEND_URL":   z.String().Trim().Default(DefaultBackendURL),
	"LOG_LEVEL":     z.String().Trim().Optional(),
	"DATA_DIR":      z.String().Trim().Optional(),
})

func Get() *EnvStruct {
	if env == nil {
		env = &EnvStruct{}
		errs := EnvSchema.Parse(zenv.NewDataProvider(), env)
		if errs != nil {
			log.Fatal("[somedaex] Failed to parse environment variables", errs)
		}
		env.LOG_LEVEL = strings.ToLower(env.LOG_LEVEL)
	}
	return env
}
