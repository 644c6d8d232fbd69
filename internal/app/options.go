package app

import (
	"fmt"
	"strconv"

	"attache/internal/attache"
	"attache/internal/config"
)

// schemaOptions converts the attachment part of cfg into schema options.
// storageProvider overrides cfg.Storage.Provider, which lets the caller
// substitute a wrapped provider.
func schemaOptions(cfg *config.Config, storageProvider string) (attache.Options, error) {
	opts := attache.Options{
		Model:         cfg.Model,
		Directory:     cfg.Directory,
		IDAsDirectory: cfg.IDAsDirectory,
		FilenameID:    cfg.FilenameID,
		Properties:    make(map[string]attache.PropertyOptions, len(cfg.Properties)),
		Storage: attache.StorageOptions{
			Provider: storageProvider,
			Options:  attache.ProviderOptions(cfg.Storage.Options),
		},
	}
	if opts.Storage.Options == nil {
		opts.Storage.Options = attache.ProviderOptions{}
	}

	for name, p := range cfg.Properties {
		styles := make(map[string]attache.StyleSpec, len(p.Styles))
		for style := range p.Styles {
			spec, err := styleSpec(cfg, name, style)
			if err != nil {
				return attache.Options{}, err
			}
			styles[style] = spec
		}
		opts.Properties[name] = attache.PropertyOptions{
			UploadDirectory: p.UploadDirectory,
			Styles:          styles,
		}
	}
	return opts, nil
}

// styleSpec converts one style table. Strings and numbers become a flag and
// one value, lists a flag and every value, true a bare flag; false drops
// the argument.
func styleSpec(cfg *config.Config, property, style string) (attache.StyleSpec, error) {
	sc := cfg.Properties[property].Styles[style]

	var spec attache.StyleSpec
	if f, ok := sc[config.FormatKey]; ok {
		s, ok := f.(string)
		if !ok || s == "" {
			return spec, fmt.Errorf("%w: %s.%s: %s must be a non-empty string", attache.ErrConfig, property, style, config.FormatKey)
		}
		spec.Format = s
	}

	for _, name := range cfg.StyleArgOrder(property, style) {
		arg := attache.Arg{Name: name}
		switch v := sc[name].(type) {
		case bool:
			if !v {
				continue
			}
		case []any:
			arg.Sequence = true
			for _, item := range v {
				s, err := scalar(item)
				if err != nil {
					return spec, fmt.Errorf("%w: %s.%s.%s: %v", attache.ErrConfig, property, style, name, err)
				}
				arg.Values = append(arg.Values, s)
			}
		case []string:
			arg.Sequence = true
			arg.Values = append(arg.Values, v...)
		default:
			s, err := scalar(v)
			if err != nil {
				return spec, fmt.Errorf("%w: %s.%s.%s: %v", attache.ErrConfig, property, style, name, err)
			}
			arg.Values = []string{s}
		}
		spec.Args = append(spec.Args, arg)
	}
	return spec, nil
}

func scalar(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("unsupported value %v (%T)", v, v)
	}
}
