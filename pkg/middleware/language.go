package middleware

import (
	"strings"

	constants "TrailSafe/pkg/constant"

	"github.com/gin-gonic/gin"
)

var supportedLanguages = map[string]bool{"en": true, "es": true}

// LanguageMiddleware 解析请求语言写入上下文，通知文案据此本地化。
// 优先级：lang 查询参数 > Accept-Language 首个标签 > 默认语言。
func LanguageMiddleware(defaultLang string) gin.HandlerFunc {
	if !supportedLanguages[defaultLang] {
		defaultLang = "en"
	}
	return func(c *gin.Context) {
		lang := c.Query("lang")
		if lang == "" {
			if accept := c.GetHeader("Accept-Language"); accept != "" {
				lang = strings.SplitN(accept, ",", 2)[0]
				if i := strings.Index(lang, "-"); i > 0 {
					lang = lang[:i]
				}
			}
		}
		if !supportedLanguages[lang] {
			lang = defaultLang
		}
		c.Set(constants.LangField, lang)
		c.Next()
	}
}
