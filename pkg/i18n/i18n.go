package i18n

import (
	"embed"
	"encoding/json"
	"log"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// I18nSupport 国际化支持结构体，用于本地化告警通知文案
type I18nSupport struct {
	bundle *i18n.Bundle
}

// NewI18nSupport 初始化国际化支持，语言文件打包进二进制
func NewI18nSupport(defaultLang string) (*I18nSupport, error) {
	bundle := i18n.NewBundle(language.MustParse(defaultLang))
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, name := range []string{"locales/en.json", "locales/es.json"} {
		data, err := localeFS.ReadFile(name)
		if err != nil {
			log.Printf("failed to read %s: %v", name, err)
			// 缺失单个语言文件不致命，回落到默认语言
			continue
		}
		if _, err := bundle.ParseMessageFileBytes(data, name); err != nil {
			log.Printf("failed to parse %s: %v", name, err)
		}
	}

	return &I18nSupport{bundle: bundle}, nil
}

// T 获取翻译文本
func (i *I18nSupport) T(languageTag, key string, templateData map[string]interface{}) string {
	localizer := i18n.NewLocalizer(i.bundle, languageTag)

	translation, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: templateData,
	})
	if err != nil {
		log.Printf("Error translating key %s: %v", key, err)
		return key
	}
	return translation
}

// TWithDefaultLang 使用默认语言获取翻译文本
func (i *I18nSupport) TWithDefaultLang(key string, templateData map[string]interface{}) string {
	localizer := i18n.NewLocalizer(i.bundle)

	translation, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: templateData,
	})
	if err != nil {
		log.Printf("Error translating key %s: %v", key, err)
		return key
	}
	return translation
}
