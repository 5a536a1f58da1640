package store

import "ikak/internal/models"

type messageKey int

const (
	msgRateLimited messageKey = iota
	msgInvalidEmail
	msgInvalidUsername
	msgShortPassword
	msgLongPassword
	msgUsernameTaken
	msgInvalidLogin
	msgEmailNotConfirmed
	msgAccountCreation
	msgAccountExists
	msgRegistrationBusy
	msgSignInBusy
	msgProfileUnavailable
	msgAlreadySignedIn
	msgNotSignedIn
	msgEmptyContent
	msgPostNotFound
	msgNotAuthor
	msgUnknownPage
	msgFallbackName
)

var messages = map[models.Language]map[messageKey]string{
	models.LanguageRU: {
		msgRateLimited:        "Слишком много попыток. Попробуйте позже.",
		msgInvalidEmail:       "Введите корректный email",
		msgInvalidUsername:    "Юзернейм: 3-20 символов, латиница, цифры",
		msgShortPassword:      "Пароль от 6 символов",
		msgLongPassword:       "Пароль не длиннее 72 символов",
		msgUsernameTaken:      "Юзернейм занят",
		msgInvalidLogin:       "Неверный email или пароль",
		msgEmailNotConfirmed:  "Подтвердите email",
		msgAccountCreation:    "Ошибка создания аккаунта",
		msgAccountExists:      "Аккаунт с таким email уже существует",
		msgRegistrationBusy:   "Регистрация уже выполняется",
		msgSignInBusy:         "Вход уже выполняется",
		msgProfileUnavailable: "Не удалось загрузить профиль. Попробуйте ещё раз.",
		msgAlreadySignedIn:    "Вы уже вошли в аккаунт",
		msgNotSignedIn:        "Войдите в аккаунт",
		msgEmptyContent:       "Текст не может быть пустым",
		msgPostNotFound:       "Пост не найден",
		msgNotAuthor:          "Удалять можно только свои посты",
		msgUnknownPage:        "Неизвестная страница",
		msgFallbackName:       "Пользователь",
	},
	models.LanguageEN: {
		msgRateLimited:        "Too many attempts. Try again later.",
		msgInvalidEmail:       "Enter a valid email",
		msgInvalidUsername:    "Username: 3-20 characters, latin letters and digits",
		msgShortPassword:      "Password must be at least 6 characters",
		msgLongPassword:       "Password must be at most 72 characters",
		msgUsernameTaken:      "Username is taken",
		msgInvalidLogin:       "Wrong email or password",
		msgEmailNotConfirmed:  "Confirm your email",
		msgAccountCreation:    "Could not create the account",
		msgAccountExists:      "An account with this email already exists",
		msgRegistrationBusy:   "Registration is already in progress",
		msgSignInBusy:         "Sign-in is already in progress",
		msgProfileUnavailable: "Could not load your profile. Try again.",
		msgAlreadySignedIn:    "You are already signed in",
		msgNotSignedIn:        "Sign in first",
		msgEmptyContent:       "Text cannot be empty",
		msgPostNotFound:       "Post not found",
		msgNotAuthor:          "You can only delete your own posts",
		msgUnknownPage:        "Unknown page",
		msgFallbackName:       "User",
	},
}

func message(lang models.Language, key messageKey) string {
	if m, ok := messages[lang]; ok {
		if s, ok := m[key]; ok {
			return s
		}
	}
	return messages[models.LanguageRU][key]
}
