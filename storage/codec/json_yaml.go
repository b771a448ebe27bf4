package codec

import (
	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
)

type jsonCodec struct{}

func (jsonCodec) Marshal(data map[string]interface{}) ([]byte, error) {
	return kjson.Parser().Marshal(data)
}

func (jsonCodec) Unmarshal(b []byte) (map[string]interface{}, error) {
	return kjson.Parser().Unmarshal(b)
}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Ext() string  { return "json" }
func (jsonCodec) MIME() string { return "application/json" }

type yamlCodec struct{}

func (yamlCodec) Marshal(data map[string]interface{}) ([]byte, error) {
	return kyaml.Parser().Marshal(data)
}

func (yamlCodec) Unmarshal(b []byte) (map[string]interface{}, error) {
	return kyaml.Parser().Unmarshal(b)
}

func (yamlCodec) Name() string { return "yaml" }
func (yamlCodec) Ext() string  { return "yaml" }
func (yamlCodec) MIME() string { return "application/yaml" }
